package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/ledgerkit/devicesync/internal/ledger"
	"github.com/ledgerkit/devicesync/internal/notify"
	"github.com/ledgerkit/devicesync/internal/otel"
	"github.com/ledgerkit/devicesync/internal/protocol"
	"github.com/ledgerkit/devicesync/internal/store"
	"github.com/ledgerkit/devicesync/internal/syncerr"
	"github.com/ledgerkit/devicesync/internal/telemetry"
)

// DefaultPushBatchSize bounds the outbox events sent per push request
const DefaultPushBatchSize = 500

// runAllKey is the singleflight key of RunAll; stream IDs never collide with it
const runAllKey = "\x00all"

// Orchestrator runs sync passes for the configured streams
//
//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks github.com/ledgerkit/devicesync/internal/sync Orchestrator
type Orchestrator interface {
	// RunPass synchronizes one stream. Concurrent calls for the same stream
	// share a single pass and its result. The returned error is non-nil
	// exactly when the pass failed.
	RunPass(ctx context.Context, streamID string) (*SyncResult, error)

	// RunAll runs a pass for every configured stream in order. It stops early
	// when a pass needs the user to sign in again; the remaining streams are
	// reported as skipped. The error is the first failure, if any.
	RunAll(ctx context.Context) ([]*SyncResult, error)

	// LastResults returns the most recent result of every stream that ran
	LastResults() []*SyncResult

	// Streams returns the configured stream IDs
	Streams() []string
}

type orchestrator struct {
	client  protocol.Client
	store   store.Store
	streams []string

	sink          notify.Sink
	metrics       *telemetry.SyncMetrics
	tracer        trace.Tracer
	clock         clock.PassiveClock
	pushBatchSize int

	group singleflight.Group

	mu          gosync.Mutex
	streamLocks map[string]*gosync.Mutex
	last        map[string]*SyncResult
}

// Option configures the orchestrator
type Option func(*orchestrator)

// WithSink sets where lifecycle notifications go
func WithSink(sink notify.Sink) Option {
	return func(o *orchestrator) {
		o.sink = sink
	}
}

// WithMetrics sets the sync metrics
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(o *orchestrator) {
		o.metrics = metrics
	}
}

// WithTracer enables pass spans
func WithTracer(tracer trace.Tracer) Option {
	return func(o *orchestrator) {
		o.tracer = tracer
	}
}

// WithClock replaces the wall clock
func WithClock(c clock.PassiveClock) Option {
	return func(o *orchestrator) {
		o.clock = c
	}
}

// WithPushBatchSize bounds the events per push request
func WithPushBatchSize(n int) Option {
	return func(o *orchestrator) {
		if n > 0 {
			o.pushBatchSize = n
		}
	}
}

// New creates an Orchestrator for the given streams
func New(client protocol.Client, st store.Store, streams []string, opts ...Option) Orchestrator {
	o := &orchestrator{
		client:        client,
		store:         st,
		streams:       append([]string(nil), streams...),
		sink:          notify.Discard,
		clock:         clock.RealClock{},
		pushBatchSize: DefaultPushBatchSize,
		streamLocks:   make(map[string]*gosync.Mutex),
		last:          make(map[string]*SyncResult),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sink == nil {
		o.sink = notify.Discard
	}
	return o
}

func (o *orchestrator) Streams() []string {
	return append([]string(nil), o.streams...)
}

func (o *orchestrator) LastResults() []*SyncResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	results := make([]*SyncResult, 0, len(o.last))
	for _, id := range o.streams {
		if r, ok := o.last[id]; ok {
			results = append(results, r)
		}
	}
	return results
}

func (o *orchestrator) RunAll(ctx context.Context) ([]*SyncResult, error) {
	v, err, _ := o.group.Do(runAllKey, func() (any, error) {
		return o.runAll(ctx)
	})
	results, _ := v.([]*SyncResult)
	return results, err
}

func (o *orchestrator) runAll(ctx context.Context) ([]*SyncResult, error) {
	results := make([]*SyncResult, 0, len(o.streams))
	var firstErr error

	for i, streamID := range o.streams {
		result, err := o.RunPass(ctx, streamID)
		results = append(results, result)
		if err != nil && firstErr == nil {
			firstErr = err
		}

		stop := ""
		if class, ok := result.RetryClass(); ok && class == syncerr.ReauthRequired {
			stop = "sign-in required"
		} else if ctx.Err() != nil {
			stop = "cancelled"
		}
		if stop != "" {
			for _, rest := range o.streams[i+1:] {
				results = append(results, &SyncResult{
					StreamID:  rest,
					Mode:      ModeIncremental,
					State:     StateSkipped,
					StartedAt: o.clock.Now(),
					Message:   stop,
				})
			}
			break
		}
	}
	return results, firstErr
}

func (o *orchestrator) RunPass(ctx context.Context, streamID string) (*SyncResult, error) {
	v, err, shared := o.group.Do(streamID, func() (any, error) {
		return o.runPass(ctx, streamID)
	})
	if shared {
		slog.Debug("Joined in-flight sync pass", "stream", streamID)
	}
	result, _ := v.(*SyncResult)
	return result, err
}

func (o *orchestrator) lockStream(streamID string) func() {
	o.mu.Lock()
	l, ok := o.streamLocks[streamID]
	if !ok {
		l = &gosync.Mutex{}
		o.streamLocks[streamID] = l
	}
	o.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (o *orchestrator) runPass(ctx context.Context, streamID string) (*SyncResult, error) {
	unlock := o.lockStream(streamID)
	defer unlock()

	result := &SyncResult{
		StreamID:  streamID,
		Mode:      ModeIncremental,
		StartedAt: o.clock.Now(),
	}

	ctx, span := otel.StartSpan(ctx, o.tracer, "sync.RunPass",
		trace.WithAttributes(otel.AttrStreamID.String(streamID)))
	defer span.End()

	o.sink.Emit(ctx, notify.Notification{Name: notify.SyncStart, StreamID: streamID, Time: result.StartedAt})

	err := o.execute(ctx, streamID, result)
	result.Duration = o.clock.Since(result.StartedAt)
	span.SetAttributes(otel.AttrSyncMode.String(string(result.Mode)))

	if err != nil {
		o.fail(ctx, result, err)
		otel.RecordError(span, err)
	} else {
		result.State = StateCommitted
		slog.Info("Sync pass committed",
			"stream", streamID,
			"mode", string(result.Mode),
			"segments_applied", result.SegmentsApplied,
			"events_applied", result.EventsApplied,
			"events_pushed", result.EventsPushed,
			"duration", result.Duration)
		o.sink.Emit(ctx, notify.Notification{
			Name:     notify.SyncComplete,
			StreamID: streamID,
			Time:     o.clock.Now(),
			Summary:  result.summary(),
		})
	}

	o.metrics.RecordPass(ctx, streamID, string(result.Mode), result.Duration, err == nil)

	o.mu.Lock()
	o.last[streamID] = result
	o.mu.Unlock()

	if err != nil {
		return result, err
	}
	return result, nil
}

// execute walks the pass state machine: decide, bootstrap if needed, pull, push
func (o *orchestrator) execute(ctx context.Context, streamID string, result *SyncResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cursor, err := o.store.LoadCursor(ctx, streamID)
	if errors.Is(err, store.ErrCursorNotFound) {
		cursor = nil
	} else if err != nil {
		return fmt.Errorf("failed to load cursor: %w", err)
	}
	if cursor != nil {
		result.Cursor = cursor
	}

	if cursor == nil || cursor.BootstrapRequired {
		result.Mode = ModeBootstrap
		restored, err := o.bootstrap(ctx, streamID, cursor, result)
		if err != nil {
			return err
		}
		cursor = restored
		result.Cursor = cursor
	}

	if err := o.pull(ctx, streamID, cursor, result); err != nil {
		return err
	}

	return o.push(ctx, streamID, result)
}

// fail records a failed pass and forces a bootstrap when the stream can no
// longer be trusted or caught up incrementally
func (o *orchestrator) fail(ctx context.Context, result *SyncResult, err error) {
	result.State = StateFailed
	result.Message = err.Error()

	se, classified := syncerr.As(err)
	if !classified {
		slog.Warn("Sync pass failed", "stream", result.StreamID, "mode", string(result.Mode), "error", err)
		o.metrics.RecordFailure(ctx, result.StreamID, syncerr.Retryable.String(), "")
		o.emitError(ctx, result)
		return
	}
	result.Err = se

	var reason ledger.BootstrapReason
	switch {
	case se.IsStaleCursor():
		reason = ledger.BootstrapReasonStaleCursor
	case se.IsIntegrityError():
		reason = ledger.BootstrapReasonIntegrity
	}

	if reason != "" {
		// a cancelled pass still has to leave the flag behind
		markCtx := context.WithoutCancel(ctx)
		if markErr := o.store.MarkBootstrapRequired(markCtx, result.StreamID, reason); markErr != nil {
			slog.Error("Failed to flag stream for bootstrap",
				"stream", result.StreamID, "reason", string(reason), "error", markErr)
		} else {
			result.BootstrapRequired = true
			if result.Cursor != nil {
				flagged := *result.Cursor
				flagged.BootstrapRequired = true
				flagged.BootstrapReason = reason
				result.Cursor = &flagged
			}
		}
	} else if result.Cursor != nil && result.Cursor.BootstrapRequired {
		result.BootstrapRequired = true
	}

	attrs := []any{
		"stream", result.StreamID,
		"mode", string(result.Mode),
		"kind", se.Kind().String(),
		"retry_class", se.RetryClass().String(),
		"error", se.Error(),
	}
	if code := se.Code(); code != "" {
		attrs = append(attrs, "code", code)
	}
	if reason != "" {
		attrs = append(attrs, "bootstrap_reason", string(reason))
	}

	switch {
	case se.IsSnapshotIDValidationError():
		slog.Warn("Server rejected snapshot id", attrs...)
	case se.RetryClass() == syncerr.ReauthRequired:
		slog.Info("Sync pass needs sign-in", attrs...)
	default:
		slog.Warn("Sync pass failed", attrs...)
	}

	o.metrics.RecordFailure(ctx, result.StreamID, se.RetryClass().String(), se.Code())
	o.emitError(ctx, result)
}

func (o *orchestrator) emitError(ctx context.Context, result *SyncResult) {
	o.sink.Emit(context.WithoutCancel(ctx), notify.Notification{
		Name:     notify.SyncError,
		StreamID: result.StreamID,
		Time:     o.clock.Now(),
		Error:    result.errorInfo(),
	})
}
