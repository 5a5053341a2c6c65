package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/ledgerkit/devicesync/sync"
)

// SyncMetrics holds the OpenTelemetry instruments for sync passes
type SyncMetrics struct {
	passDuration    metric.Float64Histogram
	segmentsApplied metric.Int64Counter
	eventsApplied   metric.Int64Counter
	eventsPushed    metric.Int64Counter
	bootstraps      metric.Int64Counter
	failures        metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	passDuration, err := meter.Float64Histogram(
		"devicesync_pass_duration_seconds",
		metric.WithDescription("Duration of sync passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, err
	}

	segmentsApplied, err := meter.Int64Counter(
		"devicesync_segments_applied_total",
		metric.WithDescription("Number of ledger segments committed to local storage"),
		metric.WithUnit("{segment}"),
	)
	if err != nil {
		return nil, err
	}

	eventsApplied, err := meter.Int64Counter(
		"devicesync_events_applied_total",
		metric.WithDescription("Number of ledger events committed to local storage"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	eventsPushed, err := meter.Int64Counter(
		"devicesync_events_pushed_total",
		metric.WithDescription("Number of local events accepted by the remote service"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	bootstraps, err := meter.Int64Counter(
		"devicesync_bootstraps_total",
		metric.WithDescription("Number of snapshot bootstraps"),
		metric.WithUnit("{bootstrap}"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter(
		"devicesync_failures_total",
		metric.WithDescription("Number of failed sync passes by retry class"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		passDuration:    passDuration,
		segmentsApplied: segmentsApplied,
		eventsApplied:   eventsApplied,
		eventsPushed:    eventsPushed,
		bootstraps:      bootstraps,
		failures:        failures,
	}, nil
}

// RecordPass records the duration and outcome of one sync pass
func (m *SyncMetrics) RecordPass(ctx context.Context, streamID, mode string, duration time.Duration, success bool) {
	if m == nil || m.passDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("stream", streamID),
		attribute.String("mode", mode),
		attribute.Bool("success", success),
	}

	m.passDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSegmentApplied counts one committed segment and its events
func (m *SyncMetrics) RecordSegmentApplied(ctx context.Context, streamID string, events int) {
	if m == nil || m.segmentsApplied == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("stream", streamID))
	m.segmentsApplied.Add(ctx, 1, attrs)
	m.eventsApplied.Add(ctx, int64(events), attrs)
}

// RecordEventsPushed counts local events acknowledged by the remote service
func (m *SyncMetrics) RecordEventsPushed(ctx context.Context, streamID string, count int) {
	if m == nil || m.eventsPushed == nil || count <= 0 {
		return
	}

	m.eventsPushed.Add(ctx, int64(count), metric.WithAttributes(attribute.String("stream", streamID)))
}

// RecordBootstrap counts a snapshot bootstrap and why it happened
func (m *SyncMetrics) RecordBootstrap(ctx context.Context, streamID, reason string) {
	if m == nil || m.bootstraps == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("stream", streamID),
		attribute.String("reason", reason),
	}

	m.bootstraps.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFailure counts a failed pass by retry class and error code
func (m *SyncMetrics) RecordFailure(ctx context.Context, streamID, retryClass, code string) {
	if m == nil || m.failures == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("stream", streamID),
		attribute.String("retry_class", retryClass),
		attribute.String("code", code),
	}

	m.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
}
