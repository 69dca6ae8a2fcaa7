package resample

import "testing"

func TestProcessUnityRateReproducesRampOnceWindowIsPrimed(t *testing.T) {
	r := New()
	input := make([]float32, 40)
	for i := range input {
		input[i] = float32(i)
	}
	output := make([]float32, 20)
	_, produced := r.Process(input, output, 1.0)
	if produced != len(output) {
		t.Fatalf("expected to fill the output buffer, got %d", produced)
	}
	// after the first few samples prime the 4-tap window, a unity-rate
	// resample of a linear ramp has unit slope (Catmull-Rom is exact on a
	// line).
	for i := 10; i < produced; i++ {
		diff := output[i] - output[i-1]
		if diff < 0.99 || diff > 1.01 {
			t.Fatalf("sample %d: expected unit slope, got delta %v (o[%d]=%v o[%d]=%v)", i, diff, i, output[i], i-1, output[i-1])
		}
	}
}

func TestProcessStopsWhenInputExhausted(t *testing.T) {
	r := New()
	input := []float32{1, 2, 3}
	output := make([]float32, 100)
	consumed, produced := r.Process(input, output, 1.0)
	if consumed != len(input) {
		t.Fatalf("expected all input consumed, got %d", consumed)
	}
	if produced >= len(output) {
		t.Fatalf("expected output to run dry before filling the buffer, got %d", produced)
	}
}

func TestProcessDownsamplingAdvancesPosFaster(t *testing.T) {
	r := New()
	input := make([]float32, 20)
	for i := range input {
		input[i] = float32(i)
	}
	output := make([]float32, 5)
	consumed, produced := r.Process(input, output, 2.0)
	if produced != 5 {
		t.Fatalf("expected to fill the output buffer, got %d", produced)
	}
	if consumed <= 5 {
		t.Fatalf("expected downsampling to consume more input than output produced, got consumed=%d", consumed)
	}
}

func TestSetupLoopPrimesWithoutDiscontinuity(t *testing.T) {
	r := New()
	r.SetupLoop(1.0, 2.0, 3.0, 4.0)
	output := make([]float32, 1)
	_, produced := r.Process(nil, output, 1.0)
	if produced != 1 {
		t.Fatalf("expected one sample from primed state with no input, got %d", produced)
	}
	if output[0] != 2.0 {
		t.Fatalf("expected the first sample at pos=0 to equal s1 (2.0), got %v", output[0])
	}
}
