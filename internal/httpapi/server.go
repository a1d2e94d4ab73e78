// Package httpapi exposes the proctoring engine to exam clients. The
// browser client pushes its observations (frames, key timings,
// visibility changes, environment metrics) and pulls session status;
// the engine decides everything else server-side.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/justinas/alice"

	"proctord/internal/auth"
	"proctord/internal/logging"
	"proctord/internal/metrics"
	"proctord/internal/security"
	"proctord/internal/session"
)

// Config configures the API server.
type Config struct {
	Addr string

	// FrameRate bounds camera frame uploads per session, frames/sec.
	FrameRate  float64
	FrameBurst int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:7411",
		FrameRate:    15,
		FrameBurst:   30,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server is the engine's HTTP front end.
type Server struct {
	cfg      Config
	manager  *session.Manager
	verifier *auth.Verifier
	frames   *security.SessionRateLimiter
	registry *metrics.Registry
	log      *logging.Logger

	http *http.Server
}

// New creates a Server.
func New(cfg Config, manager *session.Manager, verifier *auth.Verifier,
	registry *metrics.Registry, log *logging.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultConfig().FrameRate
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = DefaultConfig().FrameBurst
	}
	if log == nil {
		log = logging.Default()
	}
	if registry == nil {
		registry = metrics.Default()
	}

	s := &Server{
		cfg:      cfg,
		manager:  manager,
		verifier: verifier,
		frames:   security.NewSessionRateLimiter(cfg.FrameRate, cfg.FrameBurst),
		registry: registry,
		log:      log.WithComponent("httpapi"),
	}

	// Drop per-session rate limiter state on every conclude path, the
	// countdown timer's and shutdown's included, not just the handlers'.
	manager.OnConclude(s.frames.Forget)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes builds the route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	authed := alice.New(s.authenticate)

	mux.Handle("POST /v1/sessions", authed.ThenFunc(s.handleCreateSession))
	mux.Handle("POST /v1/sessions/{id}/consent", authed.ThenFunc(s.handleConsent))
	mux.Handle("GET /v1/sessions/{id}/status", authed.ThenFunc(s.handleStatus))
	mux.Handle("POST /v1/sessions/{id}/answers", authed.ThenFunc(s.handleAnswer))
	mux.Handle("POST /v1/sessions/{id}/finish", authed.ThenFunc(s.handleFinish))
	mux.Handle("POST /v1/sessions/{id}/terminate", authed.ThenFunc(s.handleTerminate))

	mux.Handle("POST /v1/sessions/{id}/frames", authed.ThenFunc(s.handleFrame))
	mux.Handle("POST /v1/sessions/{id}/keys", authed.ThenFunc(s.handleKeys))
	mux.Handle("POST /v1/sessions/{id}/visibility", authed.ThenFunc(s.handleVisibility))
	mux.Handle("POST /v1/sessions/{id}/clipboard", authed.ThenFunc(s.handleClipboard))
	mux.Handle("POST /v1/sessions/{id}/environment", authed.ThenFunc(s.handleEnvironment))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", s.registry.HTTPHandler())

	return alice.New(s.recoverPanic, s.logRequest).Then(mux)
}

// ListenAndServe runs the server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("http api listening", "addr", s.cfg.Addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
