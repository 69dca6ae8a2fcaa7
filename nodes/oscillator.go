package nodes

import (
	"math"

	"audiograph/block"
	"audiograph/node"
	"audiograph/param"
)

// Shape selects an Oscillator's waveform.
type Shape int

const (
	Sine Shape = iota
	Square
	Sawtooth
	Triangle
)

// Oscillator is a single-start scheduled source (§4.9): a second start()
// call reports ErrAlreadyStarted, since a running phase accumulator is
// pre-configured content a repeat start would silently corrupt.
type Oscillator struct {
	n         *node.Node
	frequency *param.Param
	shape     Shape
	sched     *schedule
	phase     float64 // accumulated phase in cycles, [0,1)
}

// NewOscillator constructs an Oscillator with the given output channel
// count, waveform shape, and initial frequency in Hz.
func NewOscillator(host node.Host, channels int, shape Shape, frequencyHz float64) *Oscillator {
	n := node.NewNode(host, 0, []int{channels})
	osc := &Oscillator{
		n:         n,
		frequency: param.New("frequency", frequencyHz, 0, 24000, param.AudioRate),
		shape:     shape,
		sched:     newSchedule(true),
	}
	n.AddParam(osc.frequency)
	n.SetImpl(osc)
	return osc
}

// Node returns the underlying graph node.
func (osc *Oscillator) Node() *node.Node { return osc.n }

// Frequency returns the oscillator's automatable frequency param.
func (osc *Oscillator) Frequency() *param.Param { return osc.frequency }

// Start schedules playback to begin at when (<=0 means immediately). A
// second call reports ErrAlreadyStarted.
func (osc *Oscillator) Start(when float64) error { return osc.sched.start(when) }

// Stop schedules playback to end at when (<=0 means immediately).
func (osc *Oscillator) Stop(when float64) { osc.sched.stop(when) }

func (osc *Oscillator) Process(blockNumber uint64, blockTime float64) {
	sampleRate := osc.n.SampleRate()
	t0 := blockTime
	t1 := blockTime + float64(block.FramesPerBlock)/sampleRate

	playing, start, end := osc.sched.window(t0, t1, sampleRate)
	if !playing {
		return
	}

	freq, err := osc.frequency.ComputeValues(blockNumber, blockTime)
	if err != nil {
		return
	}

	out := osc.n.OutBuffer(0)
	samples := make([]float32, block.FramesPerBlock)
	phase := osc.phase
	for i := 0; i < block.FramesPerBlock; i++ {
		if i >= start && i < end {
			samples[i] = waveform(osc.shape, phase)
		}
		phase += freq[i] / sampleRate
		phase -= math.Floor(phase)
	}
	osc.phase = phase

	for ch := 0; ch < out.Channels(); ch++ {
		copy(out.Channel(ch), samples)
	}
	if end > start {
		out.MarkNonSilent()
	}

	if osc.sched.shouldFireEnded(t1) {
		osc.sched.markEnded()
		osc.n.Dispose()
	}
}

func (osc *Oscillator) OnDispose() {}

// waveform evaluates shape at phase (cycles, [0,1)).
func waveform(shape Shape, phase float64) float32 {
	switch shape {
	case Sine:
		return float32(math.Sin(2 * math.Pi * phase))
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case Sawtooth:
		return float32(2*phase - 1)
	case Triangle:
		if phase < 0.5 {
			return float32(4*phase - 1)
		}
		return float32(3 - 4*phase)
	default:
		return 0
	}
}
