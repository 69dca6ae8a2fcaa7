// Command offline-render builds a small demo graph (oscillator -> gain ->
// destination) and renders it offline to a raw interleaved PCM16 file,
// exercising driver/offline outside of any realtime device.
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"os"

	"audiograph/driver/offline"
	"audiograph/engine"
	"audiograph/nodes"
	"audiograph/pool"
)

// cliHost is the minimal node.Host a standalone CLI needs: no remote
// control, no param modulation across goroutines, just a pool and a
// sample rate.
type cliHost struct {
	pool       *pool.Pool
	sampleRate float64
	ctx        *engine.Context
}

func (h *cliHost) Pool() *pool.Pool    { return h.pool }
func (h *cliHost) SampleRate() float64 { return h.sampleRate }
func (h *cliHost) ExecuteOrPost(fn func()) {
	if h.ctx == nil {
		fn()
		return
	}
	h.ctx.ExecuteOrPost(fn)
}

func main() {
	out := flag.String("out", "render.pcm", "output file (raw interleaved PCM16, little-endian)")
	seconds := flag.Float64("seconds", 2.0, "render duration in seconds")
	sampleRate := flag.Float64("sample-rate", 48000, "sample rate in Hz")
	freq := flag.Float64("freq", 440, "oscillator frequency in Hz")
	gainValue := flag.Float64("gain", 0.3, "linear gain applied to the oscillator")
	channels := flag.Int("channels", 2, "output channel count")
	flag.Parse()

	host := &cliHost{pool: pool.New(), sampleRate: *sampleRate}
	dest := nodes.NewDestination(host, *channels)
	ctx := engine.New(host.sampleRate, host.pool, dest.Node())
	host.ctx = ctx

	osc := nodes.NewOscillator(host, *channels, nodes.Sine, *freq)
	if err := osc.Start(0); err != nil {
		log.Fatalf("[offline-render] start oscillator: %v", err)
	}
	gain := nodes.NewGain(host, *channels, *gainValue)

	if err := osc.Node().Connect(0, gain.Node(), 0); err != nil {
		log.Fatalf("[offline-render] connect oscillator->gain: %v", err)
	}
	if err := gain.Node().Connect(0, dest.Node(), 0); err != nil {
		log.Fatalf("[offline-render] connect gain->destination: %v", err)
	}

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("[offline-render] create output: %v", err)
	}
	defer f.Close()

	driver := offline.New(ctx)
	totalFrames := int(*seconds * *sampleRate)
	const chunkFrames = 4096
	planar := make([][]float32, *channels)
	for i := range planar {
		planar[i] = make([]float32, chunkFrames)
	}
	interleaved := make([]byte, chunkFrames*(*channels)*2)

	rendered := 0
	for rendered < totalFrames {
		n := chunkFrames
		if rendered+n > totalFrames {
			n = totalFrames - rendered
		}
		if err := driver.Render(planar, 0, n); err != nil {
			log.Fatalf("[offline-render] render: %v", err)
		}
		for i := 0; i < n; i++ {
			for c := 0; c < *channels; c++ {
				sample := clamp(planar[c][i])
				binary.LittleEndian.PutUint16(interleaved[(i*(*channels)+c)*2:], uint16(int16(sample*32767)))
			}
		}
		if _, err := f.Write(interleaved[:n*(*channels)*2]); err != nil {
			log.Fatalf("[offline-render] write: %v", err)
		}
		rendered += n
	}

	log.Printf("[offline-render] wrote %d frames (%.2fs) to %s", rendered, *seconds, *out)
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
