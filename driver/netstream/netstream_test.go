package netstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quic-go/webtransport-go"

	"audiograph/block"
	"audiograph/engine"
	"audiograph/node"
	"audiograph/pool"
)

var errSessionClosed = errors.New("fakeSession: closed")

type constHost struct {
	pool       *pool.Pool
	sampleRate float64
	ctx        *engine.Context
}

func (h *constHost) Pool() *pool.Pool    { return h.pool }
func (h *constHost) SampleRate() float64 { return h.sampleRate }
func (h *constHost) ExecuteOrPost(fn func()) {
	if h.ctx == nil {
		fn()
		return
	}
	h.ctx.ExecuteOrPost(fn)
}

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

func newConstContext(channels int, value float32) *engine.Context {
	host := &constHost{pool: pool.New(), sampleRate: 48000}
	dest := node.NewNode(host, 0, []int{channels})
	dest.SetImpl(&constImpl{n: dest, value: value})
	ctx := engine.New(host.sampleRate, host.pool, dest)
	host.ctx = ctx
	return ctx
}

// fakeSession is an in-memory datagramSession backed by a channel, so
// Publisher/Subscriber can be tested without a real QUIC connection.
type fakeSession struct {
	mu     sync.Mutex
	closed bool
	ch     chan []byte
}

func newFakeSession() *fakeSession {
	return &fakeSession{ch: make(chan []byte, 64)}
}

func (f *fakeSession) SendDatagram(data []byte) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return errSessionClosed
	}
	cp := append([]byte(nil), data...)
	select {
	case f.ch <- cp:
	default:
	}
	return nil
}

func (f *fakeSession) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case data := <-f.ch:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSession) CloseWithError(code webtransport.SessionErrorCode, msg string) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func TestMarshalParseBlockDatagramRoundTrips(t *testing.T) {
	interleaved := []float32{0.5, -0.5, 1.0, -1.0}
	dgram := marshalBlockDatagram(7, 2, interleaved)

	seq, channels, pcm, ok := parseBlockDatagram(dgram)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if seq != 7 || channels != 2 {
		t.Fatalf("got seq=%d channels=%d, want seq=7 channels=2", seq, channels)
	}
	if len(pcm) != 4 {
		t.Fatalf("got %d pcm samples, want 4", len(pcm))
	}
	if pcm[0] <= 0 || pcm[1] >= 0 {
		t.Fatalf("expected sign to round-trip, got %v", pcm)
	}
}

func TestParseBlockDatagramRejectsShortHeader(t *testing.T) {
	if _, _, _, ok := parseBlockDatagram([]byte{1, 2, 3}); ok {
		t.Fatal("expected parse to reject a too-short datagram")
	}
}

func TestPublisherSendsRenderedBlocks(t *testing.T) {
	ctx := newConstContext(2, 0.25)
	pub := NewPublisher(ctx, 2)
	sess := newFakeSession()

	if err := pub.Start(sess); err != nil {
		t.Fatal(err)
	}
	defer pub.Stop()

	select {
	case data := <-sess.ch:
		_, channels, pcm, ok := parseBlockDatagram(data)
		if !ok || channels != 2 {
			t.Fatalf("expected a well-formed stereo datagram, got ok=%v channels=%d", ok, channels)
		}
		if len(pcm) != 2*block.FramesPerBlock {
			t.Fatalf("got %d samples, want %d", len(pcm), 2*block.FramesPerBlock)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a published datagram")
	}
}

func TestPublisherStartTwiceReturnsErrAlreadyRunning(t *testing.T) {
	ctx := newConstContext(1, 0.1)
	pub := NewPublisher(ctx, 1)
	sess := newFakeSession()

	if err := pub.Start(sess); err != nil {
		t.Fatal(err)
	}
	defer pub.Stop()

	if err := pub.Start(sess); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestSubscriberStagesReceivedDatagramsIntoRing(t *testing.T) {
	sess := newFakeSession()
	sub := NewSubscriber(1, 5)
	sub.Start(sess)
	defer sub.Stop()

	interleaved := make([]float32, block.FramesPerBlock)
	for i := range interleaved {
		interleaved[i] = 0.5
	}
	if err := sess.SendDatagram(marshalBlockDatagram(1, 1, interleaved)); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	buf := make([]float32, block.FramesPerBlock)
	for {
		sub.Read(buf, block.FramesPerBlock)
		if buf[0] != 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the receive loop to stage a datagram")
		}
		time.Sleep(time.Millisecond)
	}
	if buf[0] < 0.49 || buf[0] > 0.51 {
		t.Fatalf("got %v, want ~0.5", buf[0])
	}
}

func TestSubscriberReadPadsWithSilenceOnUnderflow(t *testing.T) {
	sub := NewSubscriber(1, 5)
	buf := make([]float32, block.FramesPerBlock)
	for i := range buf {
		buf[i] = 1 // poison, so a silence-pad failure is visible
	}
	got := sub.Read(buf, block.FramesPerBlock)
	if got != 0 {
		t.Fatalf("expected 0 frames read from an empty ring, got %d", got)
	}
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("sample %d: expected silence padding, got %v", i, v)
		}
	}
}
