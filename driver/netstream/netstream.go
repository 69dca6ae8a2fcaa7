// Package netstream implements an alternative realtime driver that ships
// rendered blocks as unreliable QUIC datagrams to a remote subscriber,
// instead of draining a ring buffer into a local device. The render-thread
// discipline is the same as package realtime: the render loop never blocks
// on the network, and a datagram that can't be sent immediately is simply
// dropped rather than retried.
package netstream

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"audiograph/block"
	"audiograph/engine"
	"audiograph/ring"
)

// datagramHeaderSize is [seq:4][channels:1], matching the teacher's
// client/transport.go MarshalDatagram/ParseDatagram header style
// (big-endian fixed fields ahead of a variable-length payload).
const datagramHeaderSize = 5

// ErrAlreadyRunning is returned by Publisher.Start when already active.
var ErrAlreadyRunning = errors.New("netstream: already running")

// datagramSession abstracts the subset of *webtransport.Session this
// package needs, for testability.
type datagramSession interface {
	SendDatagram([]byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	CloseWithError(code webtransport.SessionErrorCode, msg string) error
}

// marshalBlockDatagram packs one rendered block as [seq:4][channels:1] plus
// interleaved PCM16 samples. PCM16 (not float32) keeps a stereo 128-frame
// block comfortably under a safe QUIC datagram size.
func marshalBlockDatagram(seq uint32, channels int, interleaved []float32) []byte {
	dgram := make([]byte, datagramHeaderSize+2*len(interleaved))
	binary.BigEndian.PutUint32(dgram[0:4], seq)
	dgram[4] = byte(channels)
	for i, v := range interleaved {
		binary.BigEndian.PutUint16(dgram[datagramHeaderSize+2*i:], uint16(int16(clamp(v)*32767)))
	}
	return dgram
}

// parseBlockDatagram is the inverse of marshalBlockDatagram. The returned
// pcm is a newly allocated slice and does not alias data.
func parseBlockDatagram(data []byte) (seq uint32, channels int, pcm []int16, ok bool) {
	if len(data) < datagramHeaderSize || (len(data)-datagramHeaderSize)%2 != 0 {
		return 0, 0, nil, false
	}
	seq = binary.BigEndian.Uint32(data[0:4])
	channels = int(data[4])
	n := (len(data) - datagramHeaderSize) / 2
	pcm = make([]int16, n)
	for i := 0; i < n; i++ {
		pcm[i] = int16(binary.BigEndian.Uint16(data[datagramHeaderSize+2*i:]))
	}
	return seq, channels, pcm, true
}

func clamp(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}

// Publisher renders ctx's destination and fans each block out to a single
// subscriber session as a best-effort datagram.
type Publisher struct {
	ctx      *engine.Context
	channels int

	mu      sync.Mutex
	session datagramSession
	stopCh  chan struct{}
	wg      sync.WaitGroup
	seq     atomic.Uint32

	running atomic.Bool
}

// NewPublisher returns a Publisher rendering ctx's destination in
// channels-wide interleaved blocks.
func NewPublisher(ctx *engine.Context, channels int) *Publisher {
	return &Publisher{ctx: ctx, channels: channels}
}

// Running reports whether the render loop is active.
func (p *Publisher) Running() bool { return p.running.Load() }

// Start begins rendering and sending blocks over session until Stop is
// called or rendering a block fails. Send errors do not stop the loop.
func (p *Publisher) Start(session datagramSession) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	p.mu.Lock()
	p.session = session
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() { defer p.wg.Done(); p.renderLoop(session) }()
	return nil
}

// Stop halts the render loop and waits for it to exit.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()
	close(stopCh)
	p.wg.Wait()
}

// renderLoop mirrors driver/realtime's renderLoop, but instead of writing to
// a local ring buffer it sends each block as a datagram. A failed
// SendDatagram is logged nowhere and simply dropped: the render thread must
// never block on network backpressure (§5).
func (p *Publisher) renderLoop(session datagramSession) {
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		scratch := p.ctx.Pool().RentScratch(p.channels)
		err := p.ctx.ProcessBlockInterleaved(scratch, p.channels)
		if err == nil {
			seq := p.seq.Add(1)
			_ = session.SendDatagram(marshalBlockDatagram(seq, p.channels, scratch))
		}
		p.ctx.Pool().ReturnScratch(p.channels, scratch)
		if err != nil {
			return
		}
	}
}

// Subscriber receives a Publisher's datagrams off the network and stages
// decoded PCM into a ring.Buffer, absorbing jitter the same way
// nodes/opus.go absorbs the Opus/graph frame-size mismatch: the receive
// loop never blocks the reader, and the reader never blocks on the network.
// Datagrams are staged in arrival order; their sequence numbers are not
// used to reorder them.
type Subscriber struct {
	channels int
	rb       *ring.Buffer

	stopCh chan struct{}
	wg     sync.WaitGroup

	dropped atomic.Uint64
}

// NewSubscriber returns a Subscriber staging up to periods*block.FramesPerBlock
// frames of channels-wide audio.
func NewSubscriber(channels, periods int) *Subscriber {
	return &Subscriber{
		channels: channels,
		rb:       ring.NewBuffer(channels, block.FramesPerBlock*periods),
		stopCh:   make(chan struct{}),
	}
}

// Start begins receiving datagrams from session until Stop is called or the
// session closes.
func (s *Subscriber) Start(session datagramSession) {
	s.wg.Add(1)
	go s.receiveLoop(session)
}

// Stop halts the receive loop and waits for it to exit.
func (s *Subscriber) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Read drains up to n frames into dst, padding with silence on underflow.
// Safe to call from a playback thread while receiveLoop runs concurrently.
func (s *Subscriber) Read(dst []float32, n int) int {
	return s.rb.DrainOrSilence(dst, n)
}

// Dropped reports how many datagrams could not be staged because the ring
// had no room (the subscriber fell behind the publisher).
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscriber) receiveLoop(session datagramSession) {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-s.stopCh
		cancel()
	}()
	defer cancel()

	for {
		data, err := session.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		_, channels, pcm, ok := parseBlockDatagram(data)
		if !ok || channels != s.channels {
			continue
		}
		frames := len(pcm) / channels
		samples := make([]float32, len(pcm))
		for i, v := range pcm {
			samples[i] = float32(v) / 32768.0
		}
		if s.rb.AvailableWriteFrames() < frames {
			s.dropped.Add(1)
			continue
		}
		s.rb.WriteFrames(samples, frames)
	}
}

// Dial opens a WebTransport session to a Publisher listening at url (e.g.
// "https://host:port/netstream"), mirroring the teacher's
// server_test.go dialTestClient dial shape.
func Dial(ctx context.Context, url string, insecure bool) (*webtransport.Session, error) {
	d := webtransport.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecure}, //nolint:gosec // opt-in for local/dev use
	}
	_, sess, err := d.Dial(ctx, url, http.Header{})
	return sess, err
}

// Listener accepts WebTransport sessions for a single netstream path.
type Listener struct {
	srv *webtransport.Server
}

// Listen starts an HTTP/3 server on addr and returns a Listener plus a
// channel that yields one session per incoming WebTransport connection to
// path.
func Listen(addr, path string, tlsConfig *tls.Config) (*Listener, <-chan *webtransport.Session, error) {
	sessions := make(chan *webtransport.Session)
	s := &webtransport.Server{
		H3: http3.Server{Addr: addr, TLSConfig: tlsConfig},
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Upgrade(w, r)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		sessions <- sess
	})
	s.H3.Handler = mux

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	select {
	case err := <-errCh:
		return nil, nil, err
	case <-time.After(50 * time.Millisecond):
	}
	return &Listener{srv: s}, sessions, nil
}

// Close shuts down the listener.
func (l *Listener) Close() error { return l.srv.Close() }
