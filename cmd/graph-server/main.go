// Command graph-server runs a headless audio graph controllable over the
// network: a websocket control channel (remotectl), a REST control API
// (controlapi), and an optional realtime device output. It is the
// "server" analogue of the teacher's voice-chat server, minus any
// chat-specific wire protocol — this process only ever exposes the core
// engine's own graph/parameter operations.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"audiograph/driver/realtime"
	"audiograph/engine"
	"audiograph/internal/config"
	"audiograph/internal/tlsutil"
	"audiograph/nodes"
	"audiograph/pool"
	"audiograph/preset"
	"audiograph/remotectl"

	"audiograph/controlapi"
)

type serverHost struct {
	pool       *pool.Pool
	sampleRate float64
	ctx        *engine.Context
}

func (h *serverHost) Pool() *pool.Pool    { return h.pool }
func (h *serverHost) SampleRate() float64 { return h.sampleRate }
func (h *serverHost) ExecuteOrPost(fn func()) {
	if h.ctx == nil {
		fn()
		return
	}
	h.ctx.ExecuteOrPost(fn)
}

func main() {
	cfg := config.Load()

	controlAddr := flag.String("control-addr", cfg.ControlAddr, "websocket control channel listen address")
	apiAddr := flag.String("api-addr", cfg.APIAddr, "REST control API listen address (empty to disable)")
	presetDB := flag.String("preset-db", cfg.PresetDBPath, "sqlite preset database path")
	sampleRate := flag.Float64("sample-rate", cfg.SampleRate, "sample rate in Hz")
	channels := flag.Int("channels", cfg.Channels, "destination channel count")
	rateLimit := flag.Float64("rate-limit", cfg.RateLimitRPS, "max REST control commands per second per client")
	outputDevice := flag.Int("output-device", -1, "PortAudio output device ID (-1 for default, headless if no device available)")
	loadPreset := flag.String("load-preset", "", "preset ID to replay against the graph at startup")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	flag.Parse()

	host := &serverHost{pool: pool.New(), sampleRate: *sampleRate}
	dest := nodes.NewDestination(host, *channels)
	ctx := engine.New(host.sampleRate, host.pool, dest.Node())
	host.ctx = ctx

	reg := remotectl.NewRegistry()
	reg.Register("destination", dest.Node())

	presetStore, err := preset.Open(*presetDB)
	if err != nil {
		log.Fatalf("[graph-server] preset store: %v", err)
	}
	defer presetStore.Close()

	if *loadPreset != "" {
		p, err := presetStore.Load(context.Background(), *loadPreset)
		if err != nil {
			log.Fatalf("[graph-server] load preset %q: %v", *loadPreset, err)
		}
		if err := preset.Apply(ctx, reg, p); err != nil {
			slog.Warn("preset replay reported errors", "preset", *loadPreset, "err", err)
		}
	}

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[graph-server] shutting down...")
		cancel()
	}()

	runAudio(appCtx, ctx, *channels, *outputDevice)

	ctlSrv := remotectl.NewServer(ctx, reg)
	ctlListener, err := net.Listen("tcp", *controlAddr)
	if err != nil {
		log.Fatalf("[graph-server] control listen: %v", err)
	}
	tlsConfig, fingerprint, err := tlsutil.GenerateConfig(*certValidity, "")
	if err != nil {
		log.Fatalf("[graph-server] tls: %v", err)
	}
	log.Printf("[graph-server] control TLS fingerprint: %s", fingerprint)
	ctlHTTP := &http.Server{Handler: ctlSrv, TLSConfig: tlsConfig}
	go func() {
		log.Printf("[graph-server] control channel listening on %s", *controlAddr)
		if err := ctlHTTP.ServeTLS(ctlListener, "", ""); err != nil && err != http.ErrServerClosed {
			log.Printf("[graph-server] control channel: %v", err)
		}
	}()
	go func() {
		<-appCtx.Done()
		_ = ctlHTTP.Close()
	}()

	if *apiAddr != "" {
		api := controlapi.New(ctx, reg, *rateLimit, int(*rateLimit)+5)
		log.Printf("[graph-server] REST control API listening on %s", *apiAddr)
		if err := api.Run(appCtx, *apiAddr); err != nil {
			log.Fatalf("[graph-server] control api: %v", err)
		}
	} else {
		<-appCtx.Done()
	}
}

// runAudio starts a realtime.Driver against an output device when one is
// available, and otherwise keeps the graph moving headlessly via a
// block-rate ticker so param automation still advances even without a
// device to render to.
func runAudio(appCtx context.Context, ctx *engine.Context, channels, outputDevice int) {
	if err := realtime.Initialize(); err != nil {
		slog.Warn("portaudio unavailable, running headless", "err", err)
		go runHeadless(appCtx, ctx)
		return
	}

	drv := realtime.New(ctx, channels)
	if err := drv.Start(outputDevice); err != nil {
		slog.Warn("realtime device start failed, running headless", "err", err)
		realtime.Terminate()
		go runHeadless(appCtx, ctx)
		return
	}

	go func() {
		<-appCtx.Done()
		drv.Stop()
		realtime.Terminate()
	}()
}

func runHeadless(appCtx context.Context, ctx *engine.Context) {
	const blockPeriod = time.Duration(float64(1*time.Second) * (128.0 / 48000.0))
	ticker := time.NewTicker(blockPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-appCtx.Done():
			return
		case <-ticker.C:
			if _, err := ctx.ProcessBlock(); err != nil {
				slog.Warn("headless block process failed", "err", err)
			}
		}
	}
}
