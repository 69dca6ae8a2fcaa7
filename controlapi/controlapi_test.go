package controlapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"audiograph/engine"
	"audiograph/nodes"
	"audiograph/pool"
	"audiograph/remotectl"
)

type testHost struct {
	pool       *pool.Pool
	sampleRate float64
	ctx        *engine.Context
}

func (h *testHost) Pool() *pool.Pool    { return h.pool }
func (h *testHost) SampleRate() float64 { return h.sampleRate }
func (h *testHost) ExecuteOrPost(fn func()) {
	if h.ctx == nil {
		fn()
		return
	}
	h.ctx.ExecuteOrPost(fn)
}

func newTestServer(t *testing.T) (*Server, *engine.Context) {
	t.Helper()
	host := &testHost{pool: pool.New(), sampleRate: 48000}
	dest := nodes.NewDestination(host, 1)
	ctx := engine.New(host.sampleRate, host.pool, dest.Node())
	host.ctx = ctx

	gain := nodes.NewGain(host, 1, 1.0)
	reg := remotectl.NewRegistry()
	reg.Register("gain", gain.Node())
	reg.Register("dest", dest.Node())

	return New(ctx, reg, 0, 0), ctx
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealthReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}

func TestHandleStatsReportsPoolAndClock(t *testing.T) {
	srv, ctx := newTestServer(t)
	if _, err := ctx.ProcessBlock(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}

	var stats statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Block != 1 {
		t.Fatalf("got block %d, want 1", stats.Block)
	}
	if stats.PoolOutstanding < 0 {
		t.Fatalf("pool rent/return conservation violated: outstanding=%d", stats.PoolOutstanding)
	}
}

func TestHandleCommandConnectsNodes(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv, "/connect", remotectl.Command{Op: "connect", SrcNodeID: "gain", DstNodeID: "dest"})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCommandRejectsUnknownNode(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv, "/connect", remotectl.Command{Op: "connect", SrcNodeID: "nope", DstNodeID: "dest"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	host := &testHost{pool: pool.New(), sampleRate: 48000}
	dest := nodes.NewDestination(host, 1)
	ctx := engine.New(host.sampleRate, host.pool, dest.Node())
	host.ctx = ctx
	reg := remotectl.NewRegistry()
	reg.Register("dest", dest.Node())

	srv := New(ctx, reg, 1, 1) // 1 req/s, burst 1
	req := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, r)
		return rec
	}

	if rec := req(); rec.Code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", rec.Code)
	}
	if rec := req(); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second immediate request: got %d, want 429", rec.Code)
	}
	time.Sleep(1100 * time.Millisecond)
	if rec := req(); rec.Code != http.StatusOK {
		t.Fatalf("request after refill: got %d, want 200", rec.Code)
	}
}
