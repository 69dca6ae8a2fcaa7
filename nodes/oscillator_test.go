package nodes

import (
	"errors"
	"math"
	"testing"
)

func TestOscillatorSineStartsAtZeroPhase(t *testing.T) {
	host := newTestHost()
	osc := NewOscillator(host, 1, Sine, 440)
	if err := osc.Start(0); err != nil {
		t.Fatal(err)
	}
	if err := osc.Node().ProcessInternal(1, 0); err != nil {
		t.Fatal(err)
	}
	data := osc.Node().OutBuffer(0).Channel(0)
	if math.Abs(float64(data[0])) > 1e-6 {
		t.Fatalf("expected sample 0 near zero (sin(0)), got %v", data[0])
	}
}

func TestOscillatorSquareIsBipolar(t *testing.T) {
	host := newTestHost()
	osc := NewOscillator(host, 1, Square, 100)
	if err := osc.Start(0); err != nil {
		t.Fatal(err)
	}
	if err := osc.Node().ProcessInternal(1, 0); err != nil {
		t.Fatal(err)
	}
	data := osc.Node().OutBuffer(0).Channel(0)
	for _, v := range data {
		if v != 1 && v != -1 {
			t.Fatalf("expected square wave samples to be exactly +-1, got %v", v)
		}
	}
}

func TestOscillatorSingleStartSecondCallErrors(t *testing.T) {
	host := newTestHost()
	osc := NewOscillator(host, 1, Sine, 440)
	if err := osc.Start(0); err != nil {
		t.Fatal(err)
	}
	if err := osc.Start(1.0); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestOscillatorSilentBeforeStart(t *testing.T) {
	host := newTestHost()
	osc := NewOscillator(host, 1, Sine, 440)
	if err := osc.Node().ProcessInternal(1, 0); err != nil {
		t.Fatal(err)
	}
	if !osc.Node().OutBuffer(0).Silent {
		t.Fatal("expected silence before start()")
	}
}

func TestOscillatorPhaseContinuesAcrossBlocks(t *testing.T) {
	host := newTestHost()
	osc := NewOscillator(host, 1, Sawtooth, 375) // 375Hz: one cycle per 128 samples at 48kHz
	if err := osc.Start(0); err != nil {
		t.Fatal(err)
	}
	if err := osc.Node().ProcessInternal(1, 0); err != nil {
		t.Fatal(err)
	}
	first := append([]float32(nil), osc.Node().OutBuffer(0).Channel(0)...)

	blockDur := 128.0 / host.sampleRate
	if err := osc.Node().ProcessInternal(2, blockDur); err != nil {
		t.Fatal(err)
	}
	second := osc.Node().OutBuffer(0).Channel(0)

	// A full cycle elapsed in one block, so the phase (and thus the
	// waveform) should realign almost exactly at the top of block 2.
	if math.Abs(float64(first[0]-second[0])) > 0.01 {
		t.Fatalf("expected phase to realign after a whole number of cycles: first=%v second=%v", first[0], second[0])
	}
}
