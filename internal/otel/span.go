// Package otel provides OpenTelemetry instrumentation utilities for the sync engine.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerkit/devicesync/internal/syncerr"
)

// Attribute keys shared by protocol and orchestrator spans
const (
	AttrStreamID     = attribute.Key("stream.id")
	AttrSegmentIndex = attribute.Key("segment.index")
	AttrSnapshotID   = attribute.Key("snapshot.id")
	AttrEventCount   = attribute.Key("event.count")
	AttrSyncMode     = attribute.Key("sync.mode")
	AttrRetryClass   = attribute.Key("sync.retry_class")
	AttrErrorCode    = attribute.Key("sync.error_code")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise returns a no-op span.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records an error on a span and sets the span status to error.
// The status description stays generic; the error text only goes to the span event.
// Classified sync failures also get their retry class and code as attributes.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "operation failed")

	if se, ok := syncerr.As(err); ok {
		span.SetAttributes(AttrRetryClass.String(se.RetryClass().String()))
		if code := se.Code(); code != "" {
			span.SetAttributes(AttrErrorCode.String(code))
		}
	}
}
