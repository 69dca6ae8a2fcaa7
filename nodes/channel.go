package nodes

import "audiograph/node"

// ChannelSplitter takes one N-channel discrete input and republishes each
// channel on its own single-channel output, illustrating explicit
// channel-count mode plus discrete interpretation (§4.4): no speaker-law
// up/down-mixing applies to a splitter's input.
type ChannelSplitter struct {
	n *node.Node
}

// NewChannelSplitter constructs a splitter with a channels-wide input and
// channels single-channel outputs.
func NewChannelSplitter(host node.Host, channels int) *ChannelSplitter {
	outChannels := make([]int, channels)
	for i := range outChannels {
		outChannels[i] = 1
	}
	n := node.NewNode(host, 1, outChannels)
	n.Input(0).SetChannelCount(channels)
	n.Input(0).SetChannelCountMode(node.ModeExplicit)
	n.Input(0).SetChannelInterpretation(node.Discrete)
	s := &ChannelSplitter{n: n}
	n.SetImpl(s)
	return s
}

// Node returns the underlying graph node.
func (s *ChannelSplitter) Node() *node.Node { return s.n }

func (s *ChannelSplitter) Process(blockNumber uint64, blockTime float64) {
	in, err := s.n.Input(0).Pull(blockNumber, blockTime)
	if err != nil {
		return
	}
	for i := 0; i < s.n.NumOutputs(); i++ {
		out := s.n.OutBuffer(i)
		if i < in.Channels() {
			copy(out.Channel(0), in.Channel(i))
			if !in.Silent {
				out.MarkNonSilent()
			}
		}
	}
}

func (s *ChannelSplitter) OnDispose() {}

// ChannelMerger takes N single-channel inputs and republishes them
// discretely (no scaling) as one N-channel output — the mirror image of
// ChannelSplitter.
type ChannelMerger struct {
	n *node.Node
}

// NewChannelMerger constructs a merger with channels single-channel inputs
// and one channels-wide output.
func NewChannelMerger(host node.Host, channels int) *ChannelMerger {
	n := node.NewNode(host, channels, []int{channels})
	for i := 0; i < channels; i++ {
		n.Input(i).SetChannelCount(1)
		n.Input(i).SetChannelCountMode(node.ModeExplicit)
		n.Input(i).SetChannelInterpretation(node.Discrete)
	}
	m := &ChannelMerger{n: n}
	n.SetImpl(m)
	return m
}

// Node returns the underlying graph node.
func (m *ChannelMerger) Node() *node.Node { return m.n }

func (m *ChannelMerger) Process(blockNumber uint64, blockTime float64) {
	out := m.n.OutBuffer(0)
	anyNonSilent := false
	for i := 0; i < m.n.NumInputs(); i++ {
		in, err := m.n.Input(i).Pull(blockNumber, blockTime)
		if err != nil {
			return
		}
		if i < out.Channels() {
			copy(out.Channel(i), in.Channel(0))
			if !in.Silent {
				anyNonSilent = true
			}
		}
	}
	if anyNonSilent {
		out.MarkNonSilent()
	}
}

func (m *ChannelMerger) OnDispose() {}
