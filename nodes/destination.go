package nodes

import "audiograph/node"

// Destination is the context's sink: a single input, mixed down per §4.4,
// republished unchanged on its single output so engine.Context can read the
// rendered block the same way it reads any other node's output — no
// special-cased "read the destination's leased input buffer" path needed.
type Destination struct {
	n *node.Node
}

// NewDestination constructs a Destination with the given channel count.
func NewDestination(host node.Host, channels int) *Destination {
	n := node.NewNode(host, 1, []int{channels})
	n.Input(0).SetChannelCount(channels)
	n.Input(0).SetChannelCountMode(node.ModeExplicit)
	d := &Destination{n: n}
	n.SetImpl(d)
	return d
}

// Node returns the underlying graph node.
func (d *Destination) Node() *node.Node { return d.n }

func (d *Destination) Process(blockNumber uint64, blockTime float64) {
	in, err := d.n.Input(0).Pull(blockNumber, blockTime)
	if err != nil {
		return
	}
	out := d.n.OutBuffer(0)
	out.CopyFrom(in)
}

func (d *Destination) OnDispose() {}
