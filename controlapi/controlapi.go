// Package controlapi exposes the same graph/parameter operations as
// package remotectl over plain HTTP JSON, plus a /stats endpoint reporting
// buffer-pool conservation and engine clock state — a direct analogue of
// the teacher's /health and /api/state routes.
package controlapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"audiograph/engine"
	"audiograph/remotectl"
)

// Server is the Echo application.
type Server struct {
	echo     *echo.Echo
	ctx      *engine.Context
	registry *remotectl.Registry
	start    time.Time
}

// New constructs an Echo app with control-plane REST routes. perClientRPS
// and burst configure the inbound command rate limiter (0 disables it),
// mirroring the teacher's -rate-limit flag/limiter but implemented with
// golang.org/x/time/rate instead of a hand-rolled counter.
func New(ctx *engine.Context, reg *remotectl.Registry, perClientRPS float64, burst int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, ctx: ctx, registry: reg, start: time.Now()}
	if perClientRPS > 0 {
		e.Use(rateLimiter(perClientRPS, burst))
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			path := req.URL.Path
			if path == "/health" {
				slog.Debug("http request", "method", req.Method, "path", path, "status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds())
			} else {
				slog.Info("http request", "method", req.Method, "path", path, "status", c.Response().Status, "duration_ms", time.Since(start).Milliseconds(), "remote", c.RealIP())
			}
			return nil
		}
	}
}

// rateLimiter returns Echo middleware holding one token bucket per client
// IP, mirroring the teacher's per-client control-message rate limit.
func rateLimiter(rps float64, burst int) echo.MiddlewareFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(rps), burst)
			limiters[key] = l
		}
		return l
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !limiterFor(c.RealIP()).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/stats", s.handleStats)
	s.echo.POST("/connect", s.handleCommand)
	s.echo.POST("/disconnect", s.handleCommand)
	s.echo.POST("/param", s.handleCommand)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down control api")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type statsResponse struct {
	Block           uint64  `json:"block"`
	Time            float64 `json:"time"`
	PoolRents       uint64  `json:"pool_rents"`
	PoolReturns     uint64  `json:"pool_returns"`
	PoolOutstanding int64   `json:"pool_outstanding"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

func (s *Server) handleStats(c echo.Context) error {
	poolStats := s.ctx.Pool().Stats()
	return c.JSON(http.StatusOK, statsResponse{
		Block:           s.ctx.CurrentBlock(),
		Time:            s.ctx.CurrentTime(),
		PoolRents:       poolStats.Rents,
		PoolReturns:     poolStats.Returns,
		PoolOutstanding: poolStats.Outstanding,
		UptimeSeconds:   time.Since(s.start).Seconds(),
	})
}

// handleCommand decodes the request body as a remotectl.Command and applies
// it through the same Apply path the websocket control channel uses — the
// command shape and posting discipline are identical regardless of
// transport.
func (s *Server) handleCommand(c echo.Context) error {
	var cmd remotectl.Command
	if err := c.Bind(&cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := remotectl.Apply(s.ctx, s.registry, cmd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, remotectl.Ack{Op: cmd.Op})
}
