package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"

	"github.com/ledgerkit/devicesync/internal/api"
	"github.com/ledgerkit/devicesync/internal/auth"
	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/httpclient"
	"github.com/ledgerkit/devicesync/internal/notify"
	"github.com/ledgerkit/devicesync/internal/protocol"
	"github.com/ledgerkit/devicesync/internal/secrets"
	"github.com/ledgerkit/devicesync/internal/store"
	pkgsync "github.com/ledgerkit/devicesync/internal/sync"
	"github.com/ledgerkit/devicesync/internal/sync/scheduler"
	"github.com/ledgerkit/devicesync/internal/telemetry"
	"github.com/ledgerkit/devicesync/internal/versions"
)

const (
	defaultReadTimeout = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second

	// Sync passes triggered over HTTP can run for minutes
	defaultWriteTimeout = 10 * time.Minute

	// Tracer names of the instrumented components
	protocolTracerName = "github.com/ledgerkit/devicesync/protocol"
	syncTracerName     = "github.com/ledgerkit/devicesync/sync"
)

// Option configures the app builder
type Option func(*appConfig) error

// appConfig collects the inputs of the builder. Component overrides are
// primarily for tests; production builds every component from the config.
type appConfig struct {
	config *config.Config

	store     store.Store
	secrets   secrets.Store
	client    protocol.Client
	telemetry *telemetry.Telemetry
	clock     clock.WithTicker

	// HTTP server options
	address      string
	middlewares  []func(http.Handler) http.Handler
	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration
}

func baseConfig(opts ...Option) (*appConfig, error) {
	cfg := &appConfig{
		readTimeout:  defaultReadTimeout,
		writeTimeout: defaultWriteTimeout,
		idleTimeout:  defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.GetServerAddress()
	}
	return cfg, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) Option {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) Option {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStore injects the local ledger store
func WithStore(st store.Store) Option {
	return func(cfg *appConfig) error {
		cfg.store = st
		return nil
	}
}

// WithSecretStore injects the credential store
func WithSecretStore(s secrets.Store) Option {
	return func(cfg *appConfig) error {
		cfg.secrets = s
		return nil
	}
}

// WithProtocolClient injects the sync API client
func WithProtocolClient(c protocol.Client) Option {
	return func(cfg *appConfig) error {
		cfg.client = c
		return nil
	}
}

// WithTelemetry injects already initialized telemetry
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(cfg *appConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// WithClock sets the clock driving the background scheduler
func WithClock(c clock.WithTicker) Option {
	return func(cfg *appConfig) error {
		cfg.clock = c
		return nil
	}
}

// NewComponents builds the sync engine without the HTTP server or scheduler.
// The caller must Close the returned components.
func NewComponents(ctx context.Context, opts ...Option) (*Components, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	return buildComponents(ctx, cfg)
}

func buildComponents(ctx context.Context, b *appConfig) (_ *Components, err error) {
	c := &Components{Config: b.config}

	// Ensure cleanup happens on error
	defer func() {
		if err != nil {
			if closeErr := c.Close(context.WithoutCancel(ctx)); closeErr != nil {
				slog.Warn("Failed to release components after build error", "error", closeErr)
			}
		}
	}()

	c.Telemetry = b.telemetry
	if c.Telemetry == nil {
		c.Telemetry, err = telemetry.New(ctx,
			telemetry.WithTelemetryConfig(b.config.Telemetry),
			telemetry.WithDevice(b.config.Device.ID),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	c.Secrets = b.secrets
	if c.Secrets == nil {
		c.Secrets, err = secrets.New(secrets.Config{
			Type:        b.config.GetSecretsType(),
			ServiceName: b.config.Secrets.ServiceName,
			Path:        b.config.Secrets.Path,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create secret store: %w", err)
		}
	}

	c.Tokens = buildTokenSource(b.config, c.Secrets)

	c.Client = b.client
	if c.Client == nil {
		c.Client = protocol.NewClient(b.config.GetAPIURL(), c.Tokens,
			protocol.WithHTTPClient(httpclient.NewDefaultClient(b.config.GetTimeout())),
			protocol.WithTracer(c.Telemetry.Tracer(protocolTracerName)),
			protocol.WithClientVersion(versions.Version),
		)
	}

	c.Store = b.store
	if c.Store == nil {
		c.Store, err = store.New(ctx, &b.config.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
	}

	syncMetrics, err := telemetry.NewSyncMetrics(c.Telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	c.Events = notify.NewBroadcaster()
	c.Orchestrator = pkgsync.New(c.Client, c.Store, b.config.Streams,
		pkgsync.WithSink(notify.Multi(notify.NewLogSink(slog.Default()), c.Events)),
		pkgsync.WithMetrics(syncMetrics),
		pkgsync.WithTracer(c.Telemetry.Tracer(syncTracerName)),
		pkgsync.WithPushBatchSize(b.config.GetPushBatchSize()),
	)

	slog.Info("Sync components initialized",
		"streams", len(b.config.Streams),
		"storage", b.config.GetStorageType(),
		"api_url", b.config.GetAPIURL())
	return c, nil
}

// buildTokenSource reads credentials from the secret store and refreshes
// them when a token endpoint is configured
func buildTokenSource(cfg *config.Config, secretStore secrets.Store) *auth.TokenSource {
	var opts []auth.Option
	if cfg.Cloud.TokenURL != "" {
		opts = append(opts, auth.WithRefresh(&oauth2.Config{
			ClientID: cfg.Cloud.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.Cloud.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}))
	}
	return auth.NewTokenSource(secretStore, opts...)
}

// buildScheduler returns the background scheduler, or nil when sync is
// disabled or the device is not enrolled
func buildScheduler(b *appConfig, c *Components) *scheduler.Scheduler {
	if !b.config.IsSyncEnabled() {
		slog.Info("Background sync disabled by configuration")
		return nil
	}
	if !b.config.IsEnrolled() {
		slog.Info("Device not enrolled, background sync not started")
		return nil
	}

	var opts []scheduler.Option
	if b.clock != nil {
		opts = append(opts, scheduler.WithClock(b.clock))
	}
	return scheduler.New(c.Orchestrator, c.Secrets, opts...)
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *appConfig, c *Components) (*http.Server, error) {
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RealIP,
			api.LoggingMiddleware,
		}
	}

	// Metrics and tracing run outermost
	meterProvider := c.Telemetry.MeterProvider()
	metricsMiddleware, err := telemetry.MetricsMiddleware(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
	}
	middlewares := []func(http.Handler) http.Handler{}
	if metricsMiddleware != nil {
		middlewares = append(middlewares, metricsMiddleware)
	}
	middlewares = append(middlewares, telemetry.TracingMiddleware(c.Telemetry.TracerProvider()))
	middlewares = append(middlewares, b.middlewares...)

	serverOpts := []api.ServerOption{
		api.WithMiddlewares(middlewares...),
		api.WithEvents(c.Events),
	}
	if h := c.Telemetry.MetricsHandler(); h != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(h))
	}

	router := api.NewServer(c.Orchestrator, c.Store, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
