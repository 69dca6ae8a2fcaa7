package nodes

import (
	"audiograph/pool"
)

// testHost is a minimal synchronous node.Host for unit tests: ExecuteOrPost
// always runs fn immediately, as if called from the render thread.
type testHost struct {
	p          *pool.Pool
	sampleRate float64
}

func newTestHost() *testHost {
	return &testHost{p: pool.New(), sampleRate: 48000}
}

func (h *testHost) Pool() *pool.Pool        { return h.p }
func (h *testHost) SampleRate() float64     { return h.sampleRate }
func (h *testHost) ExecuteOrPost(fn func()) { fn() }
