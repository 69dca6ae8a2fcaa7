package nodes

import (
	"audiograph/node"
	"audiograph/param"
)

// Gain is a trivial one-input, one-output processing node: it multiplies
// its (already mixed) input by its single audio-rate Gain param,
// sample-by-sample and channel-by-channel.
type Gain struct {
	n    *node.Node
	gain *param.Param
}

// NewGain constructs a Gain node with the given input/output channel
// count and initial gain value.
func NewGain(host node.Host, channels int, initial float64) *Gain {
	n := node.NewNode(host, 1, []int{channels})
	n.Input(0).SetChannelCount(channels)
	n.Input(0).SetChannelCountMode(node.ModeExplicit)
	g := &Gain{
		n:    n,
		gain: param.New("gain", initial, 0, 4, param.AudioRate),
	}
	n.AddParam(g.gain)
	n.SetImpl(g)
	return g
}

// Node returns the underlying graph node.
func (g *Gain) Node() *node.Node { return g.n }

// Gain returns the node's automatable gain param.
func (g *Gain) Gain() *param.Param { return g.gain }

func (g *Gain) Process(blockNumber uint64, blockTime float64) {
	in, err := g.n.Input(0).Pull(blockNumber, blockTime)
	if err != nil {
		return
	}
	vals, err := g.gain.ComputeValues(blockNumber, blockTime)
	if err != nil {
		return
	}

	out := g.n.OutBuffer(0)
	if in.Silent {
		return
	}
	n := in.Channels()
	if out.Channels() < n {
		n = out.Channels()
	}
	for ch := 0; ch < n; ch++ {
		src := in.Channel(ch)
		dst := out.Channel(ch)
		for i := range dst {
			dst[i] = src[i] * float32(vals[i])
		}
	}
	out.MarkNonSilent()
}

func (g *Gain) OnDispose() {}
