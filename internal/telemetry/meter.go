package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultMetricsInterval is how often metrics are pushed over OTLP
const DefaultMetricsInterval = 60 * time.Second

// NewMeterProvider returns a provider read by Prometheus or pushed over
// OTLP, installed globally, or a no-op provider when metrics are off.
// The caller shuts the SDK provider down.
func NewMeterProvider(
	ctx context.Context, metrics *MetricsConfig, opts ...ProviderOption,
) (metric.MeterProvider, error) {
	if metrics == nil || !metrics.Enabled {
		slog.Debug("Metrics disabled")
		return noop.NewMeterProvider(), nil
	}

	s := newProviderSettings(opts)
	res, err := s.resource(ctx)
	if err != nil {
		return nil, err
	}

	var reader sdkmetric.Reader
	if metrics.Prometheus {
		reader, err = prometheusReader(s)
	} else {
		reader, err = otlpReader(ctx, s)
	}
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	if metrics.Prometheus {
		slog.Info("Metrics initialized", "exporter", "prometheus", "device_id", s.deviceID)
	} else {
		slog.Info("Metrics initialized", "exporter", "otlp", "endpoint", s.endpoint, "device_id", s.deviceID)
	}
	return mp, nil
}

func prometheusReader(s *providerSettings) (sdkmetric.Reader, error) {
	var opts []otelprom.Option
	if s.registerer != nil {
		opts = append(opts, otelprom.WithRegisterer(s.registerer))
	}
	exporter, err := otelprom.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus metrics exporter: %w", err)
	}
	return exporter, nil
}

func otlpReader(ctx context.Context, s *providerSettings) (sdkmetric.Reader, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(s.endpoint)}
	if s.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricsInterval)), nil
}
