package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const unknownVersion = "unknown"

// ProviderOption tunes how a tracer or meter provider identifies the device
// and where it exports to
type ProviderOption func(*providerSettings)

type providerSettings struct {
	serviceName    string
	serviceVersion string
	deviceID       string
	endpoint       string
	insecure       bool
	registerer     prometheus.Registerer
}

func newProviderSettings(opts []ProviderOption) *providerSettings {
	s := &providerSettings{
		serviceName:    DefaultServiceName,
		serviceVersion: unknownVersion,
		endpoint:       DefaultEndpoint,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServiceName overrides DefaultServiceName
func WithServiceName(name string) ProviderOption {
	return func(s *providerSettings) {
		s.serviceName = name
	}
}

// WithServiceVersion sets the reported daemon version
func WithServiceVersion(version string) ProviderOption {
	return func(s *providerSettings) {
		s.serviceVersion = version
	}
}

// WithDeviceID reports the enrolled device as the service instance, so
// signals from a fleet of devices can be told apart
func WithDeviceID(id string) ProviderOption {
	return func(s *providerSettings) {
		s.deviceID = id
	}
}

// WithEndpoint sets the OTLP collector as host:port
func WithEndpoint(endpoint string) ProviderOption {
	return func(s *providerSettings) {
		s.endpoint = endpoint
	}
}

// WithInsecure exports over plain HTTP
func WithInsecure(insecure bool) ProviderOption {
	return func(s *providerSettings) {
		s.insecure = insecure
	}
}

// WithPrometheusRegisterer sets the registry the Prometheus exporter
// registers with. Defaults to prometheus.DefaultRegisterer. Tracer providers
// ignore it.
func WithPrometheusRegisterer(reg prometheus.Registerer) ProviderOption {
	return func(s *providerSettings) {
		s.registerer = reg
	}
}

// resource builds the schemaless resource shared by traces and metrics.
// resource.Default is avoided because its schema URL conflicts with semconv.
func (s *providerSettings) resource(ctx context.Context) (*resource.Resource, error) {
	kvs := []attribute.KeyValue{
		semconv.ServiceName(s.serviceName),
		semconv.ServiceVersion(s.serviceVersion),
	}
	if s.deviceID != "" {
		kvs = append(kvs, semconv.ServiceInstanceID(s.deviceID))
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(kvs...),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
