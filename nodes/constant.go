package nodes

import (
	"audiograph/block"
	"audiograph/node"
	"audiograph/param"
)

// ConstantSource is a free-form scheduled source (§4.9): a second start()
// call is silently ignored rather than erroring, since there is no
// pre-configured content a repeat start could invalidate. Its single
// audio-rate param, Offset, is written to every active channel for the
// duration the node is playing.
type ConstantSource struct {
	n      *node.Node
	offset *param.Param
	sched  *schedule
}

// NewConstantSource constructs a ConstantSource with the given output
// channel count and initial offset value.
func NewConstantSource(host node.Host, channels int, offset float64) *ConstantSource {
	n := node.NewNode(host, 0, []int{channels})
	cs := &ConstantSource{
		n:      n,
		offset: param.New("offset", offset, -1e9, 1e9, param.AudioRate),
		sched:  newSchedule(false),
	}
	n.AddParam(cs.offset)
	n.SetImpl(cs)
	return cs
}

// Node returns the underlying graph node.
func (cs *ConstantSource) Node() *node.Node { return cs.n }

// Offset returns the source's automatable offset param.
func (cs *ConstantSource) Offset() *param.Param { return cs.offset }

// Start schedules playback to begin at when (<=0 means immediately). A
// second call is a no-op.
func (cs *ConstantSource) Start(when float64) error { return cs.sched.start(when) }

// Stop schedules playback to end at when (<=0 means immediately).
func (cs *ConstantSource) Stop(when float64) { cs.sched.stop(when) }

func (cs *ConstantSource) Process(blockNumber uint64, blockTime float64) {
	sampleRate := cs.n.SampleRate()
	t0 := blockTime
	t1 := blockTime + float64(block.FramesPerBlock)/sampleRate

	playing, start, end := cs.sched.window(t0, t1, sampleRate)
	if !playing {
		return
	}

	vals, err := cs.offset.ComputeValues(blockNumber, blockTime)
	if err != nil {
		return
	}

	out := cs.n.OutBuffer(0)
	for ch := 0; ch < out.Channels(); ch++ {
		data := out.Channel(ch)
		for i := start; i < end; i++ {
			data[i] = float32(vals[i])
		}
	}
	if end > start {
		out.MarkNonSilent()
	}

	if cs.sched.shouldFireEnded(t1) {
		cs.sched.markEnded()
		cs.n.Dispose()
	}
}

func (cs *ConstantSource) OnDispose() {}
