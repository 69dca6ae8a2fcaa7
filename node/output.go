package node

import "audiograph/block"

// Output is a node output port: an advisory reference to the block buffer
// published by the owner's last Process, plus the list of downstream inputs
// currently connected.
type Output struct {
	owner     *Node
	index     int
	consumers []*Input
}

// Channels returns the output's declared channel count.
func (o *Output) Channels() int {
	return o.owner.outBuffers[o.index].Channels()
}

// Buffer returns the buffer published by the owner's last Process.
func (o *Output) Buffer() *block.Block {
	return o.owner.outBuffers[o.index]
}

// ensureProcessed drives the owner to Process if it hasn't already run for
// this block, then returns the published buffer.
func (o *Output) ensureProcessed(blockNumber uint64, blockTime float64) (*block.Block, error) {
	if err := o.owner.ProcessInternal(blockNumber, blockTime); err != nil {
		return nil, err
	}
	return o.Buffer(), nil
}

// removeConsumer drops in from the consumer list, if present.
func (o *Output) removeConsumer(in *Input) {
	for i, c := range o.consumers {
		if c == in {
			o.consumers = append(o.consumers[:i], o.consumers[i+1:]...)
			return
		}
	}
}

// disconnectAll tears down every consumer connection. Used by Dispose.
func (o *Output) disconnectAll() {
	for _, in := range append([]*Input(nil), o.consumers...) {
		in.disconnect(o)
	}
}
