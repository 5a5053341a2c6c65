// Package telemetry provides OpenTelemetry instrumentation for the sync daemon.
// Traces are exported over OTLP. Metrics are exported over OTLP or scraped
// from a Prometheus endpoint served by the local API.
package telemetry

import "fmt"

const (
	// DefaultServiceName identifies the daemon when no name is configured
	DefaultServiceName = "devicesync"

	// DefaultEndpoint is the OTLP/HTTP collector, /v1/traces and /v1/metrics
	// are appended by the exporters
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling traces 5% of root spans
	DefaultSampling = 0.05
)

// Config is the telemetry section of the daemon configuration
type Config struct {
	// Enabled gates every provider. When false nothing is exported.
	Enabled bool `yaml:"enabled"`

	ServiceName    string `yaml:"serviceName,omitempty"`
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the collector as host:port
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure exports over plain HTTP, for local collectors only
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig controls span export
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of root spans kept, in (0, 1]
	Sampling *float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig controls metric export
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Prometheus serves metrics on the local API's /metrics endpoint
	// instead of pushing them to the collector
	Prometheus bool `yaml:"prometheus,omitempty"`
}

// GetServiceName returns the service name or DefaultServiceName
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version or "unknown"
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return unknownVersion
	}
	return c.ServiceVersion
}

// GetEndpoint returns the collector endpoint or DefaultEndpoint
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetInsecure reports whether export skips TLS
func (c *Config) GetInsecure() bool {
	return c.Insecure
}

// GetSampling returns the sampling ratio or DefaultSampling
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == nil {
		return DefaultSampling
	}
	return *c.Sampling
}

// Validate checks the enabled parts of the configuration. A nil or
// disabled configuration is valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// Validate checks the sampling ratio of enabled tracing
func (c *TracingConfig) Validate() error {
	if c == nil || !c.Enabled || c.Sampling == nil {
		return nil
	}
	if s := *c.Sampling; s <= 0 || s > 1.0 {
		return fmt.Errorf("sampling must be greater than 0.0 and at most 1.0, got %f", s)
	}
	return nil
}
