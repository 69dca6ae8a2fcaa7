// Package engine implements the graph-execution Context: sample-accurate
// time, the render-thread identity, the command queue bridging the control
// and render planes, and the single/interleaved block entry points.
package engine

import (
	"bytes"
	"errors"
	"runtime"
	"strconv"
	"sync/atomic"

	"audiograph/block"
	"audiograph/node"
	"audiograph/pool"
)

// ErrDisposed is returned by ProcessBlock/ProcessBlockInterleaved once the
// context has been disposed.
var ErrDisposed = errors.New("engine: context already disposed")

// Context is the graph-execution root. It implements node.Host.
type Context struct {
	sampleRate  float64
	pool        *pool.Pool
	destination *node.Node

	queue *commandQueue

	currentBlock uint64
	currentTime  float64

	pinned          atomic.Bool
	renderGoroutine atomic.Uint64 // valid once pinned is true
	inRender        atomic.Bool

	disposed atomic.Bool
}

// New constructs a Context with the given destination node, which the
// caller has already built and wired the way any other node is built.
func New(sampleRate float64, p *pool.Pool, destination *node.Node) *Context {
	return &Context{
		sampleRate:  sampleRate,
		pool:        p,
		destination: destination,
		queue:       newCommandQueue(),
	}
}

// Pool implements node.Host.
func (c *Context) Pool() *pool.Pool { return c.pool }

// SampleRate implements node.Host.
func (c *Context) SampleRate() float64 { return c.sampleRate }

// Destination returns the graph's sink node.
func (c *Context) Destination() *node.Node { return c.destination }

// CurrentBlock returns the index of the block most recently processed (0
// before the first ProcessBlock call).
func (c *Context) CurrentBlock() uint64 { return c.currentBlock }

// CurrentTime returns the context's running clock, in seconds.
func (c *Context) CurrentTime() float64 { return c.currentTime }

// Post appends fn to the command queue for execution at the start of the
// next block, regardless of caller.
func (c *Context) Post(fn func()) {
	c.queue.push(fn)
}

// ExecuteOrPost implements node.Host: it runs fn synchronously iff the
// caller is the goroutine that has called ProcessBlock (the render thread,
// latched on its first call) and that goroutine is currently between
// blocks; otherwise it posts fn for the next drain.
func (c *Context) ExecuteOrPost(fn func()) {
	if c.pinned.Load() && goroutineID() == c.renderGoroutine.Load() && !c.inRender.Load() {
		fn()
		return
	}
	c.Post(fn)
}

// ProcessBlock is the single-block entry point: drains the command queue,
// pins the render thread on first call, advances currentBlock/currentTime,
// and drives the destination to produce its block.
func (c *Context) ProcessBlock() (*block.Block, error) {
	if c.disposed.Load() {
		return nil, ErrDisposed
	}

	c.queue.drain()

	if !c.pinned.Load() {
		c.renderGoroutine.Store(goroutineID())
		c.pinned.Store(true)
	}

	c.currentBlock++
	blockTime := c.currentTime

	c.inRender.Store(true)
	err := c.destination.ProcessInternal(c.currentBlock, blockTime)
	c.inRender.Store(false)
	if err != nil {
		return nil, err
	}

	c.currentTime += float64(block.FramesPerBlock) / c.sampleRate
	return c.destination.Output(0).Buffer(), nil
}

// ProcessBlockInterleaved calls ProcessBlock and deinterleaves the
// destination's first output into out, which holds channels*FramesPerBlock
// samples. Fewer graph channels than requested zero-fill the remainder;
// more graph channels than requested silently drop the surplus.
func (c *Context) ProcessBlockInterleaved(out []float32, channels int) error {
	buf, err := c.ProcessBlock()
	if err != nil {
		return err
	}
	n := buf.Channels()
	for frame := 0; frame < block.FramesPerBlock; frame++ {
		base := frame * channels
		for ch := 0; ch < channels; ch++ {
			if ch < n {
				out[base+ch] = buf.Channel(ch)[frame]
			} else {
				out[base+ch] = 0
			}
		}
	}
	return nil
}

// Dispose marks the context disposed and disposes the destination node.
// Only the destination is disposed: its teardown disconnects it from its
// upstream nodes, but those nodes are not themselves disposed.
func (c *Context) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.destination.Dispose()
}

// Disposed reports whether Dispose has been called.
func (c *Context) Disposed() bool { return c.disposed.Load() }

// goroutineID extracts the calling goroutine's numeric ID from its stack
// trace header ("goroutine 123 [running]:"). Go exposes no public API for
// this; parsing runtime.Stack's header is the standard workaround used by
// race-detector-adjacent tooling to recognize "the same goroutine that
// called X before" without threading an explicit token through every call.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
