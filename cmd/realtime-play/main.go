// Command realtime-play renders a small demo graph (oscillator -> gain ->
// destination) to a local PortAudio output device via driver/realtime,
// optionally exposing the graph over a remotectl websocket channel so a
// remote client can retune it while it plays.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"audiograph/driver/realtime"
	"audiograph/engine"
	"audiograph/nodes"
	"audiograph/pool"
	"audiograph/remotectl"
)

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
	listDevices := flag.Bool("list-devices", false, "list PortAudio output devices and exit")
	outputDevice := flag.Int("output-device", -1, "PortAudio output device ID (-1 for default)")
	sampleRate := flag.Float64("sample-rate", 48000, "sample rate in Hz")
	channels := flag.Int("channels", 2, "output channel count")
	freq := flag.Float64("freq", 440, "oscillator frequency in Hz")
	gainValue := flag.Float64("gain", 0.3, "linear gain applied to the oscillator")
	controlAddr := flag.String("control-addr", "", "websocket control channel listen address (empty to disable)")
	duration := flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	flag.Parse()

	if err := realtime.Initialize(); err != nil {
		log.Fatalf("[realtime-play] portaudio init: %v", err)
	}
	defer realtime.Terminate()

	if *listDevices {
		devices, err := realtime.ListOutputDevices()
		if err != nil {
			log.Fatalf("[realtime-play] list devices: %v", err)
		}
		for _, d := range devices {
			fmt.Printf("%d: %s\n", d.ID, d.Name)
		}
		return
	}

	host := &cliHost{pool: pool.New(), sampleRate: *sampleRate}
	dest := nodes.NewDestination(host, *channels)
	ctx := engine.New(host.sampleRate, host.pool, dest.Node())
	host.ctx = ctx

	osc := nodes.NewOscillator(host, *channels, nodes.Sine, *freq)
	if err := osc.Start(0); err != nil {
		log.Fatalf("[realtime-play] start oscillator: %v", err)
	}
	gain := nodes.NewGain(host, *channels, *gainValue)
	if err := osc.Node().Connect(0, gain.Node(), 0); err != nil {
		log.Fatalf("[realtime-play] connect oscillator->gain: %v", err)
	}
	if err := gain.Node().Connect(0, dest.Node(), 0); err != nil {
		log.Fatalf("[realtime-play] connect gain->destination: %v", err)
	}

	drv := realtime.New(ctx, *channels)
	if err := drv.Start(*outputDevice); err != nil {
		log.Fatalf("[realtime-play] start device: %v", err)
	}
	defer drv.Stop()
	log.Printf("[realtime-play] playing %.1f Hz tone at gain %.2f", *freq, *gainValue)

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *controlAddr != "" {
		reg := remotectl.NewRegistry()
		reg.Register("oscillator", osc.Node())
		reg.Register("gain", gain.Node())
		reg.Register("destination", dest.Node())

		ctlSrv := remotectl.NewServer(ctx, reg)
		ctlHTTP := &http.Server{Addr: *controlAddr, Handler: ctlSrv}
		go func() {
			log.Printf("[realtime-play] control channel listening on %s", *controlAddr)
			if err := ctlHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[realtime-play] control channel: %v", err)
			}
		}()
		go func() {
			<-appCtx.Done()
			_ = ctlHTTP.Close()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	if *duration > 0 {
		select {
		case <-time.After(*duration):
		case <-sigCh:
		}
	} else {
		<-sigCh
	}
	cancel()
	log.Println("[realtime-play] stopping")
}
