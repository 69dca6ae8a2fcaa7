package nodes

import (
	"sync"

	"gopkg.in/hraban/opus.v2"

	"audiograph/block"
	"audiograph/node"
	"audiograph/ring"
)

// opusFrameSize is the Opus frame size in samples at 48kHz (20ms),
// matching the teacher's FrameSize constant. It is unrelated to
// block.FramesPerBlock (128): the ring buffer in each node absorbs the
// mismatch between Opus's fixed frame size and the graph's block size.
const opusFrameSize = 960

const maxPendingPackets = 30

// opusDecoder abstracts Opus decoding for testability, mirroring the
// teacher's client/audio.go interface of the same shape.
type opusDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// opusEncoder abstracts Opus encoding for testability.
type opusEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// OpusStreamSource decodes a pushed stream of Opus packets into the graph.
// PushPacket is called from whatever goroutine receives packets off the
// network; decoding only ever happens on the render thread, inside
// Process, keeping the render thread free of blocking network I/O (§5).
type OpusStreamSource struct {
	n       *node.Node
	decoder opusDecoder

	mu      sync.Mutex
	pending [][]byte
	dropped uint64

	pcm []int16
	rb  *ring.Buffer // mono decoded-PCM staging area, absorbs the frame-size mismatch
}

// NewOpusStreamSource constructs a mono OpusStreamSource decoding at
// sampleRate.
func NewOpusStreamSource(host node.Host, sampleRate int) (*OpusStreamSource, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, err
	}
	return newOpusStreamSource(host, dec), nil
}

func newOpusStreamSource(host node.Host, dec opusDecoder) *OpusStreamSource {
	n := node.NewNode(host, 0, []int{1})
	s := &OpusStreamSource{
		n:       n,
		decoder: dec,
		pcm:     make([]int16, opusFrameSize),
		rb:      ring.NewBuffer(1, opusFrameSize*4),
	}
	n.SetImpl(s)
	return s
}

// Node returns the underlying graph node.
func (s *OpusStreamSource) Node() *node.Node { return s.n }

// PushPacket enqueues an encoded Opus packet for decoding on the next
// Process call. Non-blocking: packets are dropped (and counted) once the
// queue backs up past maxPendingPackets.
func (s *OpusStreamSource) PushPacket(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= maxPendingPackets {
		s.dropped++
		return
	}
	s.pending = append(s.pending, data)
}

// Dropped reports how many pushed packets were dropped for queue overflow.
func (s *OpusStreamSource) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *OpusStreamSource) Process(blockNumber uint64, blockTime float64) {
	s.mu.Lock()
	packets := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, data := range packets {
		n, err := s.decoder.Decode(data, s.pcm)
		if err != nil {
			continue
		}
		decoded := make([]float32, n)
		for i := 0; i < n; i++ {
			decoded[i] = float32(s.pcm[i]) / 32768.0
		}
		s.rb.WriteFrames(decoded, n)
	}

	out := s.n.OutBuffer(0)
	got := s.rb.DrainOrSilence(out.Channel(0), block.FramesPerBlock)
	if got > 0 {
		out.MarkNonSilent()
	}
}

func (s *OpusStreamSource) OnDispose() {}

// OpusStreamSink encodes its input into Opus packets, handing each one to
// onPacket as soon as a full Opus frame has accumulated. Like
// OpusStreamSource, the frame-size mismatch is absorbed by an internal
// ring buffer rather than by resizing the graph's block size.
type OpusStreamSink struct {
	n        *node.Node
	encoder  opusEncoder
	rb       *ring.Buffer
	pcm      []int16
	outBuf   []byte
	onPacket func([]byte)
}

// opusMaxPacketBytes is RFC 6716's maximum Opus packet size, matching the
// teacher's constant.
const opusMaxPacketBytes = 1275

// NewOpusStreamSink constructs a mono OpusStreamSink encoding at
// sampleRate, calling onPacket with each encoded packet.
func NewOpusStreamSink(host node.Host, sampleRate int, onPacket func([]byte)) (*OpusStreamSink, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return newOpusStreamSink(host, enc, onPacket), nil
}

func newOpusStreamSink(host node.Host, enc opusEncoder, onPacket func([]byte)) *OpusStreamSink {
	n := node.NewNode(host, 1, nil)
	n.Input(0).SetChannelCount(1)
	n.Input(0).SetChannelCountMode(node.ModeExplicit)
	s := &OpusStreamSink{
		n:        n,
		encoder:  enc,
		rb:       ring.NewBuffer(1, opusFrameSize*4),
		pcm:      make([]int16, opusFrameSize),
		outBuf:   make([]byte, opusMaxPacketBytes),
		onPacket: onPacket,
	}
	n.SetImpl(s)
	return s
}

// Node returns the underlying graph node.
func (s *OpusStreamSink) Node() *node.Node { return s.n }

func (s *OpusStreamSink) Process(blockNumber uint64, blockTime float64) {
	in, err := s.n.Input(0).Pull(blockNumber, blockTime)
	if err != nil {
		return
	}
	s.rb.WriteFrames(in.Channel(0), block.FramesPerBlock)

	scratch := make([]float32, opusFrameSize)
	for s.rb.AvailableReadFrames() >= opusFrameSize {
		s.rb.Drain(scratch, opusFrameSize)
		for i, v := range scratch {
			s.pcm[i] = int16(clampFloat32(v) * 32767)
		}
		n, err := s.encoder.Encode(s.pcm, s.outBuf)
		if err != nil {
			continue
		}
		if s.onPacket != nil {
			packet := make([]byte, n)
			copy(packet, s.outBuf[:n])
			s.onPacket(packet)
		}
	}
}

func (s *OpusStreamSink) OnDispose() {}

func clampFloat32(v float32) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return v
}
