package nodes

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"audiograph/node"
)

// rtpReader abstracts the subset of *webrtc.TrackRemote this node needs,
// for testability. *webrtc.TrackRemote satisfies this directly.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// WebRTCTrackSource bridges an incoming WebRTC audio track (assumed
// Opus-encoded, as the teacher's voice-chat transport always negotiates)
// into the graph. A background goroutine reads RTP packets off the track
// and pushes their payload to an embedded OpusStreamSource for decoding on
// the render thread — the blocking network read never touches the render
// thread, per §5.
type WebRTCTrackSource struct {
	*OpusStreamSource
	stopCh chan struct{}
	done   chan struct{}
}

// NewWebRTCTrackSource constructs a WebRTCTrackSource decoding track's
// payload at sampleRate and starts its background read loop.
func NewWebRTCTrackSource(host node.Host, track rtpReader, sampleRate int) (*WebRTCTrackSource, error) {
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, err
	}
	return newWebRTCTrackSource(host, track, dec), nil
}

func newWebRTCTrackSource(host node.Host, track rtpReader, dec opusDecoder) *WebRTCTrackSource {
	s := &WebRTCTrackSource{
		OpusStreamSource: newOpusStreamSource(host, dec),
		stopCh:           make(chan struct{}),
		done:             make(chan struct{}),
	}
	go s.readLoop(track)
	return s
}

func (s *WebRTCTrackSource) readLoop(track rtpReader) {
	defer close(s.done)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("webrtc track source: read rtp", "err", err)
			}
			return
		}
		s.PushPacket(pkt.Payload)
	}
}

// Stop halts the background read loop and waits for it to exit. Safe to
// call once.
func (s *WebRTCTrackSource) Stop() {
	close(s.stopCh)
	<-s.done
}

// sampleWriter abstracts the subset of *webrtc.TrackLocalStaticSample this
// node needs, for testability. *webrtc.TrackLocalStaticSample satisfies
// this directly.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// WebRTCTrackSink encodes its input to Opus and writes each encoded frame
// as a WebRTC media sample onto track.
type WebRTCTrackSink struct {
	*OpusStreamSink
}

// opusFrameDuration is the playback duration of one Opus frame at
// opusFrameSize samples / 48kHz.
const opusFrameDuration = 20 * time.Millisecond

// NewWebRTCTrackSink constructs a WebRTCTrackSink encoding at sampleRate
// and writing each Opus frame to track.
func NewWebRTCTrackSink(host node.Host, track sampleWriter, sampleRate int) (*WebRTCTrackSink, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return newWebRTCTrackSink(host, track, enc), nil
}

func newWebRTCTrackSink(host node.Host, track sampleWriter, enc opusEncoder) *WebRTCTrackSink {
	onPacket := func(data []byte) {
		_ = track.WriteSample(media.Sample{Data: data, Duration: opusFrameDuration})
	}
	return &WebRTCTrackSink{OpusStreamSink: newOpusStreamSink(host, enc, onPacket)}
}

// NewWebRTCAudioTrack constructs a local Opus audio track suitable for
// passing to NewWebRTCTrackSink, using the codec capability pion's voice
// transport negotiates.
func NewWebRTCAudioTrack(id, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, streamID)
}
