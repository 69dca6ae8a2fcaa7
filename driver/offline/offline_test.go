package offline

import (
	"errors"
	"testing"

	"audiograph/block"
	"audiograph/engine"
	"audiograph/node"
	"audiograph/pool"
)

type constHost struct {
	pool       *pool.Pool
	sampleRate float64
	ctx        *engine.Context
}

func (h *constHost) Pool() *pool.Pool    { return h.pool }
func (h *constHost) SampleRate() float64 { return h.sampleRate }
func (h *constHost) ExecuteOrPost(fn func()) {
	if h.ctx == nil {
		fn()
		return
	}
	h.ctx.ExecuteOrPost(fn)
}

type constImpl struct {
	n     *node.Node
	value float32
}

func (c *constImpl) Process(blockNumber uint64, blockTime float64) {
	buf := c.n.OutBuffer(0)
	for ch := 0; ch < buf.Channels(); ch++ {
		data := buf.Channel(ch)
		for i := range data {
			data[i] = c.value
		}
	}
	buf.MarkNonSilent()
}

func (c *constImpl) OnDispose() {}

func newConstContext(t *testing.T, channels int, value float32) *engine.Context {
	t.Helper()
	host := &constHost{pool: pool.New(), sampleRate: 48000}
	dest := node.NewNode(host, 0, []int{channels})
	dest.SetImpl(&constImpl{n: dest, value: value})
	ctx := engine.New(host.sampleRate, host.pool, dest)
	host.ctx = ctx
	return ctx
}

func TestRenderExactlyOneBlock(t *testing.T) {
	ctx := newConstContext(t, 2, 0.5)
	d := New(ctx)
	out := [][]float32{make([]float32, block.FramesPerBlock), make([]float32, block.FramesPerBlock)}
	if err := d.Render(out, 0, block.FramesPerBlock); err != nil {
		t.Fatal(err)
	}
	for ch := range out {
		for i, v := range out[ch] {
			if v != 0.5 {
				t.Fatalf("ch %d sample %d: got %v, want 0.5", ch, i, v)
			}
		}
	}
}

func TestRenderFewerThanABlockCarriesOver(t *testing.T) {
	ctx := newConstContext(t, 1, 1.0)
	d := New(ctx)

	first := [][]float32{make([]float32, 50)}
	if err := d.Render(first, 0, 50); err != nil {
		t.Fatal(err)
	}
	for i, v := range first[0] {
		if v != 1.0 {
			t.Fatalf("first render sample %d: got %v, want 1.0", i, v)
		}
	}

	// The remaining 78 frames of that same block should be served without
	// pulling a second block from the destination.
	second := [][]float32{make([]float32, 78)}
	if err := d.Render(second, 0, 78); err != nil {
		t.Fatal(err)
	}
	if ctx.CurrentBlock() != 1 {
		t.Fatalf("expected carry-over to avoid a second ProcessBlock, got block %d", ctx.CurrentBlock())
	}
	for i, v := range second[0] {
		if v != 1.0 {
			t.Fatalf("second render sample %d: got %v, want 1.0", i, v)
		}
	}
}

func TestRenderSpanningMultipleBlocks(t *testing.T) {
	ctx := newConstContext(t, 1, 2.0)
	d := New(ctx)
	n := block.FramesPerBlock*3 + 10
	out := [][]float32{make([]float32, n)}
	if err := d.Render(out, 0, n); err != nil {
		t.Fatal(err)
	}
	if ctx.CurrentBlock() != 4 {
		t.Fatalf("expected 4 blocks pulled, got %d", ctx.CurrentBlock())
	}
	for i, v := range out[0] {
		if v != 2.0 {
			t.Fatalf("sample %d: got %v, want 2.0", i, v)
		}
	}
}

func TestRenderRejectsZeroChannels(t *testing.T) {
	ctx := newConstContext(t, 1, 0)
	d := New(ctx)
	err := d.Render([][]float32{}, 0, 10)
	if !errors.Is(err, ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
}

func TestRenderRejectsNonPositiveFrameCount(t *testing.T) {
	ctx := newConstContext(t, 1, 0)
	d := New(ctx)
	out := [][]float32{make([]float32, 10)}
	if err := d.Render(out, 0, 0); !errors.Is(err, ErrArgument) {
		t.Fatalf("expected ErrArgument for zero frame count, got %v", err)
	}
	if err := d.Render(out, 0, -1); !errors.Is(err, ErrArgument) {
		t.Fatalf("expected ErrArgument for negative frame count, got %v", err)
	}
}

func TestRenderRejectsNegativeStart(t *testing.T) {
	ctx := newConstContext(t, 1, 0)
	d := New(ctx)
	out := [][]float32{make([]float32, 10)}
	if err := d.Render(out, -1, 5); !errors.Is(err, ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
}

func TestRenderRejectsTooSmallBuffer(t *testing.T) {
	ctx := newConstContext(t, 1, 0)
	d := New(ctx)
	out := [][]float32{make([]float32, 5)}
	if err := d.Render(out, 0, 10); !errors.Is(err, ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
}

func TestRenderRejectsNilChannel(t *testing.T) {
	ctx := newConstContext(t, 1, 0)
	d := New(ctx)
	out := [][]float32{nil}
	if err := d.Render(out, 0, 10); !errors.Is(err, ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
}
