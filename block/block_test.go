package block

import "testing"

func TestNewIsSilentAndZeroed(t *testing.T) {
	b := New(2)
	if !b.Silent {
		t.Error("expected new block to be silent")
	}
	if b.Channels() != 2 {
		t.Errorf("channels: got %d, want 2", b.Channels())
	}
	for ch := 0; ch < 2; ch++ {
		for i, s := range b.Channel(ch) {
			if s != 0 {
				t.Fatalf("channel %d sample %d: got %v, want 0", ch, i, s)
			}
		}
	}
	if len(b.Channel(0)) != FramesPerBlock {
		t.Errorf("frame count: got %d, want %d", len(b.Channel(0)), FramesPerBlock)
	}
}

func TestClearResetsSilent(t *testing.T) {
	b := New(1)
	b.Channel(0)[0] = 1.0
	b.MarkNonSilent()
	if b.Silent {
		t.Fatal("expected non-silent after write")
	}
	b.Clear()
	if !b.Silent {
		t.Error("expected silent after Clear")
	}
	if b.Channel(0)[0] != 0 {
		t.Error("expected zeroed sample after Clear")
	}
}

func TestSilentIsOneDirectionalOutsideClear(t *testing.T) {
	b := New(1)
	b.Channel(0)[0] = 1.0
	b.MarkNonSilent()
	// Zeroing a sample back out manually must not silently re-silence.
	b.Channel(0)[0] = 0
	if b.Silent {
		t.Error("silent flag should not reset outside Clear")
	}
}

func TestCopyFromPreservesLayout(t *testing.T) {
	src := New(2)
	src.Channel(0)[5] = 0.5
	src.MarkNonSilent()

	dst := New(3)
	dst.CopyFrom(src)
	if dst.Channels() != 2 {
		t.Fatalf("channels after CopyFrom: got %d, want 2", dst.Channels())
	}
	if dst.Channel(0)[5] != 0.5 {
		t.Error("expected copied sample")
	}
	if dst.Silent {
		t.Error("expected non-silent after copying non-silent source")
	}
}
