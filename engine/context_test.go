package engine

import (
	"errors"
	"testing"

	"audiograph/node"
	"audiograph/pool"
)

// constImpl publishes a constant value on every sample of its single output.
type constImpl struct {
	n     *node.Node
	value float32
}

func (c *constImpl) Process(blockNumber uint64, blockTime float64) {
	buf := c.n.OutBuffer(0)
	for ch := 0; ch < buf.Channels(); ch++ {
		data := buf.Channel(ch)
		for i := range data {
			data[i] = c.value
		}
	}
	buf.MarkNonSilent()
}

func (c *constImpl) OnDispose() {}

// passthroughImpl copies input 0 into output 0 unchanged.
type passthroughImpl struct {
	n *node.Node
}

func (p *passthroughImpl) Process(blockNumber uint64, blockTime float64) {
	in, err := p.n.Input(0).Pull(blockNumber, blockTime)
	if err != nil {
		return
	}
	p.n.OutBuffer(0).CopyFrom(in)
}

func (p *passthroughImpl) OnDispose() {}

func newTestContext(t *testing.T) (*Context, *node.Node) {
	t.Helper()
	host := &hostAdapter{pool: pool.New(), sampleRate: 48000}
	dest := node.NewNode(host, 1, []int{2})
	dest.SetImpl(&passthroughImpl{n: dest})
	ctx := New(host.sampleRate, host.pool, dest)
	host.ctx = ctx
	return ctx, dest
}

// hostAdapter implements node.Host directly from a pool/sampleRate, with
// ExecuteOrPost deferred to a Context set once construction (which needs
// Pool/SampleRate before the Context itself can exist) completes.
type hostAdapter struct {
	pool       *pool.Pool
	sampleRate float64
	ctx        *Context
}

func (h *hostAdapter) Pool() *pool.Pool    { return h.pool }
func (h *hostAdapter) SampleRate() float64 { return h.sampleRate }
func (h *hostAdapter) ExecuteOrPost(fn func()) {
	if h.ctx == nil {
		fn()
		return
	}
	h.ctx.ExecuteOrPost(fn)
}

func TestProcessBlockAdvancesTimeAndBlockIndex(t *testing.T) {
	ctx, _ := newTestContext(t)
	if ctx.CurrentBlock() != 0 {
		t.Fatalf("expected block 0 before any ProcessBlock, got %d", ctx.CurrentBlock())
	}
	if _, err := ctx.ProcessBlock(); err != nil {
		t.Fatal(err)
	}
	if ctx.CurrentBlock() != 1 {
		t.Fatalf("expected block 1, got %d", ctx.CurrentBlock())
	}
	wantTime := 128.0 / 48000.0
	if ctx.CurrentTime() < wantTime-1e-12 || ctx.CurrentTime() > wantTime+1e-12 {
		t.Fatalf("expected time %v, got %v", wantTime, ctx.CurrentTime())
	}
}

func TestExecuteOrPostRunsSynchronouslyOnRenderThreadBetweenBlocks(t *testing.T) {
	ctx, _ := newTestContext(t)
	if _, err := ctx.ProcessBlock(); err != nil {
		t.Fatal(err)
	}
	ran := false
	ctx.ExecuteOrPost(func() { ran = true })
	if !ran {
		t.Fatal("expected ExecuteOrPost to run synchronously after ProcessBlock pinned this goroutine")
	}
}

func TestExecuteOrPostPostsWhenCalledDuringProcessBlock(t *testing.T) {
	ctx, dest := newTestContext(t)
	ran := false
	dest.SetImpl(&postingImpl{inner: &passthroughImpl{n: dest}, ctx: ctx, fn: func() { ran = true }})
	if _, err := ctx.ProcessBlock(); err != nil {
		t.Fatal(err)
	}
	if ran {
		t.Fatal("expected ExecuteOrPost called from inside process_internal to be deferred, not run inline")
	}
	if _, err := ctx.ProcessBlock(); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("expected the deferred command to run at the next block's drain")
	}
}

// postingImpl calls ExecuteOrPost(fn) once during Process, then delegates
// to inner. Used to prove in_render is true during process_internal.
type postingImpl struct {
	inner node.Impl
	ctx   *Context
	fn    func()
	ran   bool
}

func (p *postingImpl) Process(blockNumber uint64, blockTime float64) {
	if !p.ran {
		p.ran = true
		p.ctx.ExecuteOrPost(p.fn)
	}
	p.inner.Process(blockNumber, blockTime)
}

func (p *postingImpl) OnDispose() { p.inner.OnDispose() }

func TestProcessBlockFailsAfterDispose(t *testing.T) {
	ctx, _ := newTestContext(t)
	ctx.Dispose()
	ctx.Dispose() // idempotent
	_, err := ctx.ProcessBlock()
	if !errors.Is(err, ErrDisposed) {
		t.Fatalf("expected ErrDisposed, got %v", err)
	}
}

func TestProcessBlockInterleavedZeroPadsMissingChannels(t *testing.T) {
	host := &hostAdapter{pool: pool.New(), sampleRate: 48000}
	src := node.NewNode(host, 0, []int{1})
	src.SetImpl(&constImpl{n: src, value: 1.0})
	dest := node.NewNode(host, 1, []int{1})
	dest.Input(0).SetChannelCount(1) // keep the graph mono
	dest.SetImpl(&passthroughImpl{n: dest})
	ctx := New(host.sampleRate, host.pool, dest)
	host.ctx = ctx
	if err := src.Connect(0, dest, 0); err != nil {
		t.Fatal(err)
	}

	out := make([]float32, 128*2)
	if err := ctx.ProcessBlockInterleaved(out, 2); err != nil {
		t.Fatal(err)
	}
	for frame := 0; frame < 128; frame++ {
		if out[frame*2] != 1.0 {
			t.Fatalf("frame %d channel 0: got %v, want 1.0", frame, out[frame*2])
		}
		if out[frame*2+1] != 0 {
			t.Fatalf("frame %d channel 1: got %v, want 0 (zero-padded)", frame, out[frame*2+1])
		}
	}
}
