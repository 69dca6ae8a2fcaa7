// Package node implements the graph node base: ports, lifecycle,
// block-number memoization, cycle detection, and connect/disconnect.
//
// The spec's design notes suggest modeling connections as (nodeId,
// outputIndex) pairs resolved against a context-owned arena, to avoid
// reference cycles in non-garbage-collected implementations. Go already
// collects cycles safely, so Input/Output hold direct pointers to each
// other instead — disposal stays deterministic because Dispose explicitly
// and synchronously clears these slices on the render thread, independent
// of whatever the garbage collector later reclaims.
package node

import (
	"fmt"
	"sync/atomic"

	"audiograph/block"
	"audiograph/param"
	"audiograph/pool"
)

var nextID atomic.Uint64

// Host is the subset of engine.Context a Node needs: buffer pool access,
// sample rate, and the execute-or-post discipline for posted mutations.
// Defined here (not imported from the engine package) to avoid an import
// cycle, since engine.Context owns the destination *Node.
type Host interface {
	Pool() *pool.Pool
	SampleRate() float64
	ExecuteOrPost(fn func())
}

// Impl is the subclass capability surface a concrete node type provides:
// produce output for a block, and release type-specific resources on
// disposal.
type Impl interface {
	Process(blockNumber uint64, blockTime float64)
	OnDispose()
}

// Node is the base object every node type embeds. Input/output counts are
// fixed at construction.
type Node struct {
	id   uint64
	host Host
	impl Impl

	inputs     []*Input
	outputs    []*Output
	outBuffers []*block.Block
	params     []*param.Param

	lastProcessedBlock uint64
	hasProcessed       bool
	inProgress         bool
	disposed           bool
}

// NewNode allocates a Node with numInputs input ports (nominal channel count
// 2, per §3's default) and one output per entry in outChannels (each
// pre-rented at that channel count). Call SetImpl before the node is ever
// processed.
func NewNode(host Host, numInputs int, outChannels []int) *Node {
	n := &Node{
		id:   nextID.Add(1),
		host: host,
	}
	n.inputs = make([]*Input, numInputs)
	for i := range n.inputs {
		n.inputs[i] = NewInput(host, 2)
	}
	n.outputs = make([]*Output, len(outChannels))
	n.outBuffers = make([]*block.Block, len(outChannels))
	for i, ch := range outChannels {
		n.outputs[i] = &Output{owner: n, index: i}
		n.outBuffers[i] = host.Pool().Rent(ch)
	}
	return n
}

// SetImpl attaches the subclass behaviour. Must be called exactly once,
// before the node is wired into a graph.
func (n *Node) SetImpl(impl Impl) { n.impl = impl }

// ID returns the node's monotonically-increasing identity.
func (n *Node) ID() uint64 { return n.id }

// Equals reports whether two nodes share the same identity.
func (n *Node) Equals(other *Node) bool {
	if other == nil {
		return false
	}
	return n.id == other.id
}

// Input returns input port i.
func (n *Node) Input(i int) *Input { return n.inputs[i] }

// NumInputs returns the input port count.
func (n *Node) NumInputs() int { return len(n.inputs) }

// Output returns output port i.
func (n *Node) Output(i int) *Output { return n.outputs[i] }

// NumOutputs returns the output port count.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// OutBuffer returns the buffer the subclass should write output i into
// during Process. It is cleared (zeroed, silent=true) before each Process
// call.
func (n *Node) OutBuffer(i int) *block.Block { return n.outBuffers[i] }

// SampleRate returns the host context's sample rate, for node types (e.g.
// scheduled sources, oscillators) whose Process needs it directly.
func (n *Node) SampleRate() float64 { return n.host.SampleRate() }

// AddParam registers p with the node, attaches its hidden summing
// modulation input, and configures its sample rate from the host.
func (n *Node) AddParam(p *param.Param) {
	p.SetSampleRate(n.host.SampleRate())
	in := NewInput(n.host, 1)
	in.SetChannelCountMode(ModeExplicit)
	p.SetModulationInput(in)
	n.params = append(n.params, p)
}

// Params returns every param registered on this node.
func (n *Node) Params() []*param.Param { return n.params }

// modulationInputOf returns p's hidden summing input, regardless of which
// node p was registered on — a param's modulation port is reached through
// the param itself, not through node-side bookkeeping.
func modulationInputOf(p *param.Param) (*Input, bool) {
	in, ok := p.ModulationInput().(*Input)
	return in, ok
}

// Disposed reports whether Dispose has completed tearing this node down.
func (n *Node) Disposed() bool { return n.disposed }

// ProcessInternal memoizes per block: if already processed for
// blockNumber it returns immediately; if re-entered while in progress it
// reports a cycle naming this node. Otherwise it computes every param,
// pulls every input, and invokes the subclass Process.
func (n *Node) ProcessInternal(blockNumber uint64, blockTime float64) (err error) {
	if n.disposed {
		return fmt.Errorf("%w: node %d", ErrDisposed, n.id)
	}
	if n.inProgress {
		return fmt.Errorf("%w: node %d", ErrCycle, n.id)
	}
	if n.hasProcessed && n.lastProcessedBlock == blockNumber {
		return nil
	}

	n.inProgress = true
	n.lastProcessedBlock = blockNumber
	n.hasProcessed = true
	defer func() {
		n.inProgress = false
		if err != nil {
			// A failed block is not memoized: pulling it again re-runs this
			// node and its inputs instead of returning a partial result.
			n.hasProcessed = false
			for _, in := range n.inputs {
				in.hasPulled = false
			}
		}
	}()

	for _, p := range n.params {
		if _, err := p.ComputeValues(blockNumber, blockTime); err != nil {
			return err
		}
	}
	for _, in := range n.inputs {
		if _, err := in.Pull(blockNumber, blockTime); err != nil {
			return err
		}
	}
	for _, buf := range n.outBuffers {
		buf.Clear()
	}
	n.impl.Process(blockNumber, blockTime)
	return nil
}

// Connect wires output outIdx of n to input inIdx of dst, posted through
// execute_or_post. Self-connection and out-of-range indices fail
// synchronously as argument errors.
func (n *Node) Connect(outIdx int, dst *Node, inIdx int) error {
	if n.Equals(dst) {
		return fmt.Errorf("%w: node cannot connect to itself", ErrArgument)
	}
	if outIdx < 0 || outIdx >= len(n.outputs) {
		return fmt.Errorf("%w: output index %d out of range", ErrArgument, outIdx)
	}
	if inIdx < 0 || inIdx >= len(dst.inputs) {
		return fmt.Errorf("%w: input index %d out of range", ErrArgument, inIdx)
	}
	out := n.outputs[outIdx]
	in := dst.inputs[inIdx]
	n.host.ExecuteOrPost(func() { in.connect(out) })
	return nil
}

// Disconnect unwires output outIdx of n from input inIdx of dst.
func (n *Node) Disconnect(outIdx int, dst *Node, inIdx int) error {
	if outIdx < 0 || outIdx >= len(n.outputs) {
		return fmt.Errorf("%w: output index %d out of range", ErrArgument, outIdx)
	}
	if inIdx < 0 || inIdx >= len(dst.inputs) {
		return fmt.Errorf("%w: input index %d out of range", ErrArgument, inIdx)
	}
	out := n.outputs[outIdx]
	in := dst.inputs[inIdx]
	n.host.ExecuteOrPost(func() { in.disconnect(out) })
	return nil
}

// ConnectToParam wires output outIdx of n into p's hidden summing input.
func (n *Node) ConnectToParam(outIdx int, p *param.Param) error {
	if outIdx < 0 || outIdx >= len(n.outputs) {
		return fmt.Errorf("%w: output index %d out of range", ErrArgument, outIdx)
	}
	in, ok := modulationInputOf(p)
	if !ok {
		return fmt.Errorf("%w: param %q has no modulation input", ErrArgument, p.Name)
	}
	out := n.outputs[outIdx]
	n.host.ExecuteOrPost(func() { in.connect(out) })
	return nil
}

// DisconnectFromParam unwires output outIdx of n from p's hidden summing
// input.
func (n *Node) DisconnectFromParam(outIdx int, p *param.Param) error {
	if outIdx < 0 || outIdx >= len(n.outputs) {
		return fmt.Errorf("%w: output index %d out of range", ErrArgument, outIdx)
	}
	in, ok := modulationInputOf(p)
	if !ok {
		return fmt.Errorf("%w: param %q has no modulation input", ErrArgument, p.Name)
	}
	out := n.outputs[outIdx]
	n.host.ExecuteOrPost(func() { in.disconnect(out) })
	return nil
}

// Dispose is idempotent and posted through execute_or_post. On the render
// thread it tears down every output, every input, every param's modulation
// input, then invokes the subclass OnDispose.
func (n *Node) Dispose() {
	if n.disposed {
		return
	}
	n.host.ExecuteOrPost(func() {
		if n.disposed {
			return
		}
		n.disposed = true
		for _, o := range n.outputs {
			o.disconnectAll()
		}
		for _, in := range n.inputs {
			in.disconnectAll()
			in.release()
		}
		for _, p := range n.params {
			if in, ok := modulationInputOf(p); ok {
				in.disconnectAll()
				in.release()
			}
		}
		n.impl.OnDispose()
	})
}
