package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the tracer and meter providers of the daemon
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	registry       *prometheus.Registry
}

// Option configures New
type Option func(*options)

type options struct {
	config   *Config
	deviceID string
}

// WithTelemetryConfig sets the telemetry section of the configuration
func WithTelemetryConfig(cfg *Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithDevice tags every exported signal with the enrolled device
func WithDevice(id string) Option {
	return func(o *options) {
		o.deviceID = id
	}
}

// New initializes telemetry. A nil or disabled configuration yields no-op
// providers. Call Shutdown to flush pending data.
func New(ctx context.Context, opts ...Option) (*Telemetry, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.config
	if cfg == nil || !cfg.Enabled {
		slog.Debug("Telemetry disabled")
		return noopTelemetry(), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	common := []ProviderOption{
		WithServiceName(cfg.GetServiceName()),
		WithServiceVersion(cfg.GetServiceVersion()),
		WithDeviceID(o.deviceID),
		WithEndpoint(cfg.GetEndpoint()),
		WithInsecure(cfg.GetInsecure()),
	}
	if cfg.GetInsecure() {
		slog.Warn("Telemetry is exported over plain HTTP", "endpoint", cfg.GetEndpoint())
	}

	tp, err := NewTracerProvider(ctx, cfg.Tracing, common...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	// The scrape endpoint reads a private registry, never the default one
	var registry *prometheus.Registry
	meterOpts := common
	if cfg.Metrics != nil && cfg.Metrics.Enabled && cfg.Metrics.Prometheus {
		registry = prometheus.NewRegistry()
		meterOpts = append(meterOpts, WithPrometheusRegisterer(registry))
	}

	mp, err := NewMeterProvider(ctx, cfg.Metrics, meterOpts...)
	if err != nil {
		if sdk, ok := tp.(*sdktrace.TracerProvider); ok {
			_ = sdk.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	slog.Info("Telemetry initialized",
		"service_name", cfg.GetServiceName(),
		"service_version", cfg.GetServiceVersion())
	return &Telemetry{tracerProvider: tp, meterProvider: mp, registry: registry}, nil
}

func noopTelemetry() *Telemetry {
	// Both constructors return no-op providers without touching ctx
	tp, _ := NewTracerProvider(context.Background(), nil)
	mp, _ := NewMeterProvider(context.Background(), nil)
	return &Telemetry{tracerProvider: tp, meterProvider: mp}
}

// TracerProvider returns the tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// Tracer returns a named tracer
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return t.tracerProvider.Tracer(name, opts...)
}

// Meter returns a named meter
func (t *Telemetry) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	return t.meterProvider.Meter(name, opts...)
}

// MetricsHandler returns the Prometheus scrape handler, or nil when metrics
// are not exposed for scraping
func (t *Telemetry) MetricsHandler() http.Handler {
	if t.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the SDK providers
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if tp, ok := t.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	slog.Debug("Telemetry shut down")
	return nil
}
