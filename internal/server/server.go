// Package server exposes dictation over HTTP.
//
// Routes:
//
//	GET  /v1/dictate                 WebSocket dictation session
//	GET  /v1/dictionary              stored entries and snippets
//	POST /v1/dictionary/entries      add or replace a dictionary entry
//	POST /v1/dictionary/suggestions  learn entries from an edited transcript
//	GET  /healthz, /readyz           liveness and readiness
//	GET  /metrics                    Prometheus scrape endpoint
//
// Every WebSocket connection owns exactly one [dictation.Pipeline], created
// by the [Factory] when the connection opens and destroyed when it closes.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/dictoxa/internal/dictation"
	"github.com/MrWong99/dictoxa/internal/health"
	"github.com/MrWong99/dictoxa/internal/observe"
	"github.com/MrWong99/dictoxa/internal/store"
)

const (
	// maxFrameBytes caps a single inbound WebSocket message. One second of
	// 48 kHz stereo PCM is 192 KiB.
	maxFrameBytes = 1 << 20

	// outboundQueue is the number of event frames buffered per connection.
	outboundQueue = 64

	shutdownTimeout = 10 * time.Second
)

// Factory builds per-connection pipelines from the current configuration.
type Factory interface {
	// NewPipeline returns a ready pipeline with dictionary and snippets
	// loaded. The caller destroys it.
	NewPipeline(ctx context.Context) (*dictation.Pipeline, error)

	// RefreshDictionary reloads entries and snippets into p. It runs before
	// every session so entries saved mid-connection apply to the next one.
	// On error p keeps its previous dictionary.
	RefreshDictionary(ctx context.Context, p *dictation.Pipeline) error

	// DefaultMode is used when a start frame names no mode.
	DefaultMode() dictation.Mode
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the dictionary routes.
func WithStore(s store.Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(srv *Server) { srv.health = h }
}

// WithMetrics sets the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithAllowedOrigins sets the WebSocket origin patterns accepted in addition
// to same-origin requests (e.g. "localhost:*").
func WithAllowedOrigins(patterns []string) Option {
	return func(srv *Server) { srv.origins = patterns }
}

// WithMetricsHandler replaces the default promhttp handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(srv *Server) { srv.metricsHandler = h }
}

// Server is the dictation HTTP server.
type Server struct {
	factory        Factory
	store          store.Store
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	origins        []string
}

// New creates a Server.
func New(f Factory, opts ...Option) *Server {
	s := &Server{factory: f}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	return s
}

// Handler returns the root handler with tracing and request metrics applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/dictate", s.handleDictate)
	if s.store != nil {
		mux.HandleFunc("GET /v1/dictionary", s.handleListDictionary)
		mux.HandleFunc("POST /v1/dictionary/entries", s.handleAddEntry)
	}
	mux.HandleFunc("POST /v1/dictionary/suggestions", s.handleSuggest)
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", s.metricsHandler)
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. A nil tlsCfg serves plain HTTP.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tlsCfg *tls.Config) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln, tlsCfg)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, tlsCfg *tls.Config) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         tlsCfg,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", ln.Addr().String(), "tls", tlsCfg != nil)
		if tlsCfg != nil {
			errCh <- hs.ServeTLS(ln, "", "")
		} else {
			errCh <- hs.Serve(ln)
		}
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	if s.health != nil {
		s.health.SetDraining(true)
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
