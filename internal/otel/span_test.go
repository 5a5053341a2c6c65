package otel

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerkit/devicesync/internal/syncerr"
)

func recordingTracer(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp.Tracer("sync")
}

func attrMap(span tracetest.SpanStub) map[string]string {
	m := map[string]string{}
	for _, kv := range span.Attributes {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

func TestStartSpan(t *testing.T) {
	t.Parallel()

	t.Run("nil tracer keeps the caller span", func(t *testing.T) {
		t.Parallel()
		exporter, tracer := recordingTracer(t)
		ctx, parent := tracer.Start(context.Background(), "sync.RunAll")

		got, span := StartSpan(ctx, nil, "sync.RunPass")
		assert.Equal(t, ctx, got)
		assert.Equal(t, parent.SpanContext(), span.SpanContext())
		parent.End()
		assert.Len(t, exporter.GetSpans(), 1)
	})

	t.Run("nil tracer without a caller span is a no-op", func(t *testing.T) {
		t.Parallel()
		_, span := StartSpan(context.Background(), nil, "sync.RunPass")
		assert.False(t, span.SpanContext().IsValid())
		assert.NotPanics(t, func() { span.End() })
	})

	t.Run("child of the caller span", func(t *testing.T) {
		t.Parallel()
		exporter, tracer := recordingTracer(t)
		ctx, parent := tracer.Start(context.Background(), "sync.RunPass")

		_, span := StartSpan(ctx, tracer, "sync.ApplySegment",
			trace.WithAttributes(AttrStreamID.String("orders"), AttrSegmentIndex.Int64(4)))
		span.End()
		parent.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)
		child := spans[0]
		assert.Equal(t, "sync.ApplySegment", child.Name)
		assert.Equal(t, parent.SpanContext().SpanID(), child.Parent.SpanID())
		assert.Equal(t, map[string]string{"stream.id": "orders", "segment.index": "4"}, attrMap(child))
	})
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantAttrs map[string]string
	}{
		{
			name:      "plain error",
			err:       errors.New("disk full"),
			wantAttrs: map[string]string{},
		},
		{
			name:      "transport failure",
			err:       syncerr.Transport(errors.New("connection reset")),
			wantAttrs: map[string]string{"sync.retry_class": "retryable"},
		},
		{
			name:      "auth failure",
			err:       syncerr.Auth("token revoked"),
			wantAttrs: map[string]string{"sync.retry_class": "reauth-required"},
		},
		{
			name: "integrity failure wrapped by the orchestrator",
			err: fmt.Errorf("failed to apply: %w",
				syncerr.APIStructured(409, syncerr.CodeEventIndexMismatch, "gap", nil)),
			wantAttrs: map[string]string{
				"sync.retry_class": "retryable",
				"sync.error_code":  syncerr.CodeEventIndexMismatch,
			},
		},
		{
			name:      "rejected request",
			err:       syncerr.API(400, "bad cursor"),
			wantAttrs: map[string]string{"sync.retry_class": "permanent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			exporter, tracer := recordingTracer(t)
			_, span := tracer.Start(context.Background(), "sync.RunPass")

			RecordError(span, tt.err)
			span.End()

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, codes.Error, spans[0].Status.Code)
			// Error text stays out of the status description
			assert.Equal(t, "operation failed", spans[0].Status.Description)
			require.Len(t, spans[0].Events, 1)
			assert.Equal(t, "exception", spans[0].Events[0].Name)
			assert.Equal(t, tt.wantAttrs, attrMap(spans[0]))
		})
	}
}

func TestRecordError_Nil(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() { RecordError(nil, errors.New("x")) })

	exporter, tracer := recordingTracer(t)
	_, span := tracer.Start(context.Background(), "sync.RunPass")
	RecordError(span, nil)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
	assert.Empty(t, spans[0].Events)
}
