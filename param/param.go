// Package param implements AudioParam-style sample-accurate automation: a
// time-indexed event list plus per-block sample/block-rate value
// computation, mutated through a publish-by-replace atomic pointer so the
// render thread never takes a lock to read it.
package param

import (
	"fmt"
	"math"
	"sync/atomic"

	"audiograph/block"
)

// Rate selects whether a Param computes one value per sample (AudioRate) or
// one value per block (ControlRate).
type Rate int

const (
	AudioRate Rate = iota
	ControlRate
)

// Kind tags the variant of an automation Event.
type Kind int

const (
	SetValue Kind = iota
	LinearRamp
	ExponentialRamp
	SetTarget
)

// Event is one entry in a Param's automation schedule.
type Event struct {
	Kind Kind
	// Value is the target value for SetValue/LinearRamp/ExponentialRamp, or
	// the approach target for SetTarget.
	Value float64
	Time  float64 // absolute context time, seconds
	// TimeConstant is only meaningful for SetTarget.
	TimeConstant float64
}

// minTimeConstant is the floor applied to a SetTarget event's time constant,
// per §4.3 ("τ = max(timeConstant, 1 ms)").
const minTimeConstant = 0.001

// ModulationSource is the minimal surface a hidden summing input needs to
// expose. node.Input satisfies this without param needing to import node,
// which would otherwise create an import cycle (node.Node owns []*Param).
type ModulationSource interface {
	// Connected reports whether any output feeds this input.
	Connected() bool
	// Pull runs the input's mix-down for the given block and returns the
	// resulting buffer (never nil on success). Fails if pulling upstream
	// hits a graph cycle.
	Pull(blockNumber uint64, blockTime float64) (*block.Block, error)
}

// Param is an automatable scalar parameter.
type Param struct {
	Name              string
	Default, Min, Max float64
	rate              Rate
	intrinsic         atomic.Uint64 // float64 bits
	events            atomic.Pointer[[]Event]
	modulation        ModulationSource
	computed          []float64 // scratch, sized to block.FramesPerBlock
	sampleDuration     float64   // 1/sampleRate, set via SetSampleRate
}

// New constructs a Param with the given bounds and rate, initialized to
// def. Panics if def is outside [min, max] or min > max — this is an
// argument error surfaced at construction, not deferred to the render
// thread, since Params are always built from the control thread before a
// node is wired into a graph.
func New(name string, def, min, max float64, rate Rate) *Param {
	if min > max {
		panic(fmt.Sprintf("param %q: min %v > max %v", name, min, max))
	}
	if def < min || def > max {
		panic(fmt.Sprintf("param %q: default %v out of range [%v, %v]", name, def, min, max))
	}
	p := &Param{
		Name:     name,
		Default:  def,
		Min:      min,
		Max:      max,
		rate:           rate,
		computed:       make([]float64, block.FramesPerBlock),
		sampleDuration: 1.0 / 48000.0,
	}
	p.intrinsic.Store(math.Float64bits(def))
	empty := []Event{}
	p.events.Store(&empty)
	return p
}

// Rate reports whether this Param is audio-rate or control-rate.
func (p *Param) Rate() Rate { return p.rate }

// SetModulationInput attaches the port that feeds this Param's hidden
// summing input. nil detaches it (no modulation).
func (p *Param) SetModulationInput(src ModulationSource) {
	p.modulation = src
}

// ModulationInput returns the port feeding this Param's hidden summing
// input, or nil if none was attached. Lets a node look up another node's
// param's input port by going through the param itself, rather than having
// to track ownership separately.
func (p *Param) ModulationInput() ModulationSource {
	return p.modulation
}

// Value returns the current intrinsic scalar, ignoring any scheduled events
// or modulation. Useful for UI display.
func (p *Param) Value() float64 {
	return math.Float64frombits(p.intrinsic.Load())
}

// SetValue sets the intrinsic scalar immediately and cancels every scheduled
// event, per §4.3 ("setting the intrinsic scalar cancels all events
// atomically"). clamp is applied.
func (p *Param) SetValue(v float64) {
	v = clamp(v, p.Min, p.Max)
	p.intrinsic.Store(math.Float64bits(v))
	empty := []Event{}
	p.events.Store(&empty)
}

// SetValueAtTime schedules an immediate jump to v at time t.
func (p *Param) SetValueAtTime(v, t float64) error {
	return p.publish(Event{Kind: SetValue, Value: v, Time: t})
}

// LinearRampToValueAtTime schedules a linear ramp to v, ending at time t.
func (p *Param) LinearRampToValueAtTime(v, t float64) error {
	return p.publish(Event{Kind: LinearRamp, Value: v, Time: t})
}

// ExponentialRampToValueAtTime schedules a geometric ramp to v, ending at
// time t. v must be strictly positive (§4.3/§7: exponential ramp with a
// non-positive target is an argument error).
func (p *Param) ExponentialRampToValueAtTime(v, t float64) error {
	if v <= 0 {
		return fmt.Errorf("param %q: exponential ramp target must be > 0, got %v", p.Name, v)
	}
	return p.publish(Event{Kind: ExponentialRamp, Value: v, Time: t})
}

// SetTargetAtTime schedules an exponential approach toward target starting
// at time t, with the given time constant (seconds; floored at 1 ms).
func (p *Param) SetTargetAtTime(target, t, timeConstant float64) error {
	return p.publish(Event{Kind: SetTarget, Value: target, Time: t, TimeConstant: timeConstant})
}

// CancelScheduledValues drops every event with time >= t0.
func (p *Param) CancelScheduledValues(t0 float64) {
	for {
		old := p.events.Load()
		kept := make([]Event, 0, len(*old))
		for _, e := range *old {
			if e.Time < t0 {
				kept = append(kept, e)
			}
		}
		if p.events.CompareAndSwap(old, &kept) {
			return
		}
	}
}

// publish inserts e into the sorted event list via a publish-then-CAS loop,
// retrying on contention so the render thread always observes an immutable
// snapshot.
func (p *Param) publish(e Event) error {
	for {
		old := p.events.Load()
		next := make([]Event, len(*old), len(*old)+1)
		copy(next, *old)
		i := 0
		for i < len(next) && next[i].Time <= e.Time {
			i++
		}
		next = append(next, Event{})
		copy(next[i+1:], next[i:len(next)-1])
		next[i] = e
		if p.events.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// ComputeValues fills and returns p.computed with FramesPerBlock
// sample-accurate values for the block starting at blockTime. Control-rate
// params compute a single value at block start and broadcast it to every
// slot. Fails only if pulling a connected modulation source fails (a graph
// cycle upstream).
func (p *Param) ComputeValues(blockNumber uint64, blockTime float64) ([]float64, error) {
	events := *p.events.Load()
	intrinsic := p.Value()

	var modBlock *block.Block
	if p.modulation != nil && p.modulation.Connected() {
		var err error
		modBlock, err = p.modulation.Pull(blockNumber, blockTime)
		if err != nil {
			return nil, err
		}
	}

	if p.rate == ControlRate {
		v := p.valueAtTime(events, intrinsic, blockTime)
		if modBlock != nil && modBlock.Channels() > 0 {
			v = clamp(v+float64(modBlock.Channel(0)[0]), p.Min, p.Max)
		} else {
			v = clamp(v, p.Min, p.Max)
		}
		for i := range p.computed {
			p.computed[i] = v
		}
		return p.computed, nil
	}

	for i := range p.computed {
		p.computed[i] = p.valueAtTime(events, intrinsic, p.sampleTime(blockTime, i))
	}
	if modBlock != nil && modBlock.Channels() > 0 {
		mod := modBlock.Channel(0)
		for i := range p.computed {
			p.computed[i] = clamp(p.computed[i]+float64(mod[i]), p.Min, p.Max)
		}
	} else {
		for i := range p.computed {
			p.computed[i] = clamp(p.computed[i], p.Min, p.Max)
		}
	}
	return p.computed, nil
}

// sampleTime returns the absolute time of sample sampleIndex within a block
// starting at blockTime. Requires SetSampleRate to have been called first.
func (p *Param) sampleTime(blockTime float64, sampleIndex int) float64 {
	return blockTime + float64(sampleIndex)*p.sampleDuration
}

// SetSampleRate configures the per-sample time step used by audio-rate
// evaluation. Must be called once, before the Param is ever processed.
func (p *Param) SetSampleRate(sampleRate float64) {
	p.sampleDuration = 1.0 / sampleRate
}

// valueAtTime evaluates the automation model described in §4.3 against the
// sorted event list at absolute time t, starting from the given intrinsic
// baseline.
func (p *Param) valueAtTime(events []Event, intrinsic float64, t float64) float64 {
	if len(events) == 0 {
		return intrinsic
	}

	baseline := intrinsic
	for i, e := range events {
		if t < e.Time {
			if i == 0 {
				return baseline
			}
			prev := events[i-1]
			switch e.Kind {
			case LinearRamp:
				return lerp(prev.Value, e.Value, prev.Time, e.Time, t)
			case ExponentialRamp:
				if prev.Value <= 0 || e.Value <= 0 {
					return lerp(prev.Value, e.Value, prev.Time, e.Time, t)
				}
				return expRamp(prev.Value, e.Value, prev.Time, e.Time, t)
			default:
				if prev.Kind == SetTarget {
					tau := math.Max(prev.TimeConstant, minTimeConstant)
					baselineAtStart := baselineUpTo(events, intrinsic, i-1)
					return prev.Value + (baselineAtStart-prev.Value)*math.Exp(-(t-prev.Time)/tau)
				}
				return prev.Value
			}
		}
		switch e.Kind {
		case SetValue, LinearRamp, ExponentialRamp:
			baseline = e.Value
		case SetTarget:
			// does not advance baseline
		}
	}

	last := events[len(events)-1]
	if last.Kind == SetTarget {
		tau := math.Max(last.TimeConstant, minTimeConstant)
		baselineAtStart := baselineUpTo(events, intrinsic, len(events)-1)
		return last.Value + (baselineAtStart-last.Value)*math.Exp(-(t-last.Time)/tau)
	}
	return last.Value
}

// baselineUpTo returns the running baseline value immediately before
// events[idx] takes effect (i.e. folding events[0:idx], matching the scan in
// valueAtTime but stopping short of idx).
func baselineUpTo(events []Event, intrinsic float64, idx int) float64 {
	baseline := intrinsic
	for i := 0; i < idx; i++ {
		switch events[i].Kind {
		case SetValue, LinearRamp, ExponentialRamp:
			baseline = events[i].Value
		}
	}
	return baseline
}

func lerp(v0, v1, t0, t1, t float64) float64 {
	if t1 == t0 {
		return v1
	}
	frac := (t - t0) / (t1 - t0)
	return v0 + (v1-v0)*frac
}

func expRamp(v0, v1, t0, t1, t float64) float64 {
	if t1 == t0 {
		return v1
	}
	frac := (t - t0) / (t1 - t0)
	return v0 * math.Pow(v1/v0, frac)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
