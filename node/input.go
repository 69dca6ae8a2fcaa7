package node

import (
	"math"

	"audiograph/block"
)

// ChannelCountMode selects how an Input derives its effective channel count
// from its nominal count and its connected outputs.
type ChannelCountMode int

const (
	ModeMax ChannelCountMode = iota
	ModeClampedMax
	ModeExplicit
)

// ChannelInterpretation selects the channel-conversion law an Input applies
// when mixing a connected output's buffer into its own.
type ChannelInterpretation int

const (
	Speakers ChannelInterpretation = iota
	Discrete
)

// Input is a node input port: it owns a leased block buffer, the list of
// connected upstream outputs, and the policy knobs that determine its
// effective channel count and mixing law.
type Input struct {
	host    Host
	nominal int
	mode    ChannelCountMode
	interp  ChannelInterpretation

	sources []*Output

	leased     *block.Block
	lastPulled uint64
	hasPulled  bool
}

// NewInput constructs an Input with the given nominal channel count (default
// channel-count mode is Max, default interpretation is Speakers, matching
// §3's data model defaults).
func NewInput(host Host, nominal int) *Input {
	return &Input{host: host, nominal: nominal, mode: ModeMax, interp: Speakers}
}

// SetChannelCount sets the nominal channel count.
func (in *Input) SetChannelCount(n int) { in.nominal = n }

// SetChannelCountMode sets the channel-count derivation policy.
func (in *Input) SetChannelCountMode(m ChannelCountMode) { in.mode = m }

// SetChannelInterpretation sets the mixing law (speakers vs discrete).
func (in *Input) SetChannelInterpretation(ci ChannelInterpretation) { in.interp = ci }

// Connected reports whether any output currently feeds this input.
func (in *Input) Connected() bool { return len(in.sources) > 0 }

// connect wires o as a source of in. Render-thread only (called from inside
// an execute_or_post closure).
func (in *Input) connect(o *Output) {
	in.sources = append(in.sources, o)
	o.consumers = append(o.consumers, in)
}

// disconnect unwires o from in, if connected. Render-thread only.
func (in *Input) disconnect(o *Output) {
	for i, s := range in.sources {
		if s == o {
			in.sources = append(in.sources[:i], in.sources[i+1:]...)
			break
		}
	}
	o.removeConsumer(in)
}

// disconnectAll tears down every source connection. Used by Dispose.
func (in *Input) disconnectAll() {
	for _, o := range append([]*Output(nil), in.sources...) {
		in.disconnect(o)
	}
}

// effectiveChannelCount implements §4.4 step 2.
func (in *Input) effectiveChannelCount() int {
	switch in.mode {
	case ModeExplicit:
		return in.nominal
	case ModeClampedMax:
		m := in.maxOverSources()
		if m > in.nominal {
			return in.nominal
		}
		return m
	default: // ModeMax
		return in.maxOverSources()
	}
}

func (in *Input) maxOverSources() int {
	m := in.nominal
	for _, s := range in.sources {
		if ch := s.Channels(); ch > m {
			m = ch
		}
	}
	return m
}

// Pull runs the input's per-block mix-down (§4.4) and returns the resulting
// buffer. It runs at most once per blockNumber; a repeated call for the same
// block returns the cached result without re-mixing.
func (in *Input) Pull(blockNumber uint64, blockTime float64) (*block.Block, error) {
	if in.hasPulled && in.lastPulled == blockNumber {
		return in.leased, nil
	}
	in.hasPulled = true
	in.lastPulled = blockNumber

	if len(in.sources) == 0 {
		in.ensureLeased(in.nominal)
		in.leased.Clear()
		return in.leased, nil
	}

	eff := in.effectiveChannelCount()
	in.ensureLeased(eff)
	in.leased.Clear()

	for _, src := range in.sources {
		buf, err := src.ensureProcessed(blockNumber, blockTime)
		if err != nil {
			return nil, err
		}
		mixInto(in.leased, buf, in.interp)
	}
	return in.leased, nil
}

// ensureLeased makes sure in.leased has exactly ch channels, renting a fresh
// buffer from the pool and returning the stale one if not.
func (in *Input) ensureLeased(ch int) {
	if in.leased != nil && in.leased.Channels() == ch {
		return
	}
	if in.leased != nil {
		in.host.Pool().Return(in.leased)
	}
	in.leased = in.host.Pool().Rent(ch)
}

// release returns the leased buffer to the pool. Called on Dispose.
func (in *Input) release() {
	if in.leased != nil {
		in.host.Pool().Return(in.leased)
		in.leased = nil
	}
}

// mixInto adds src into dst per §4.4's channel-conversion law, skipping
// entirely (and not marking dst non-silent) when src is silent.
func mixInto(dst, src *block.Block, interp ChannelInterpretation) {
	if src.Silent {
		return
	}
	dst.MarkNonSilent()

	srcCh, dstCh := src.Channels(), dst.Channels()

	if interp == Discrete {
		n := min(srcCh, dstCh)
		for ch := 0; ch < n; ch++ {
			addInto(dst.Channel(ch), src.Channel(ch))
		}
		return
	}

	switch {
	case srcCh == dstCh:
		for ch := 0; ch < srcCh; ch++ {
			addInto(dst.Channel(ch), src.Channel(ch))
		}
	case srcCh == 1 && dstCh > 1:
		mono := src.Channel(0)
		for ch := 0; ch < dstCh; ch++ {
			addInto(dst.Channel(ch), mono)
		}
	case dstCh == 1 && srcCh > 1:
		scale := float32(1.0 / math.Sqrt(float64(srcCh)))
		out := dst.Channel(0)
		for ch := 0; ch < srcCh; ch++ {
			in := src.Channel(ch)
			for i := range out {
				out[i] += in[i] * scale
			}
		}
	default:
		n := min(srcCh, dstCh)
		for ch := 0; ch < n; ch++ {
			addInto(dst.Channel(ch), src.Channel(ch))
		}
	}
}

func addInto(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}
