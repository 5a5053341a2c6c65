// Package api provides the local HTTP API of the sync engine.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ledgerkit/devicesync/internal/api/system"
	v1 "github.com/ledgerkit/devicesync/internal/api/v1"
	"github.com/ledgerkit/devicesync/internal/notify"
	"github.com/ledgerkit/devicesync/internal/store"
	pkgsync "github.com/ledgerkit/devicesync/internal/sync"
)

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	events         *notify.Broadcaster
	metricsHandler http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithEvents serves the notifications of b at /api/v1/sync/events
func WithEvents(b *notify.Broadcaster) ServerOption {
	return func(cfg *serverConfig) {
		cfg.events = b
	}
}

// WithMetricsHandler serves h at /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// NewServer creates and configures the HTTP router for the orchestrator and
// the cursor store it writes to
func NewServer(orchestrator pkgsync.Orchestrator, cursors store.CursorStore, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID, middleware.Recoverer)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Mount("/", system.HealthRouter(system.ReadinessFunc(func(ctx context.Context) error {
		_, err := cursors.ListCursors(ctx)
		return err
	})))

	r.Mount("/api/v1/sync", v1.Router(orchestrator, cursors, cfg.events))

	if cfg.metricsHandler != nil {
		r.Handle("/metrics", cfg.metricsHandler)
	}

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
