// Package notify delivers sync lifecycle notifications to interested parties.
//
// Delivery is best-effort: a sink never blocks the sync pass that emits into
// it, and a failing or slow consumer loses notifications rather than
// delaying the engine.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Name identifies a lifecycle notification
type Name string

const (
	// SyncStart is emitted when a pass begins
	SyncStart Name = "sync-start"
	// SyncComplete is emitted when a pass committed
	SyncComplete Name = "sync-complete"
	// SyncError is emitted when a pass failed
	SyncError Name = "sync-error"
)

// Summary describes what a committed pass did
type Summary struct {
	Mode            string `json:"mode"`
	SegmentsApplied int    `json:"segmentsApplied"`
	EventsApplied   int    `json:"eventsApplied"`
	EventsPushed    int    `json:"eventsPushed"`
	SnapshotApplied bool   `json:"snapshotApplied"`
	DurationMillis  int64  `json:"durationMs"`
}

// ErrorInfo describes a failed pass
type ErrorInfo struct {
	Message    string `json:"message"`
	Kind       string `json:"kind,omitempty"`
	RetryClass string `json:"retryClass,omitempty"`
	Code       string `json:"code,omitempty"`
}

// Notification is a single lifecycle event
type Notification struct {
	Name     Name       `json:"name"`
	StreamID string     `json:"streamId"`
	Time     time.Time  `json:"time"`
	Summary  *Summary   `json:"summary,omitempty"`
	Error    *ErrorInfo `json:"error,omitempty"`
}

// Sink receives notifications
//
//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks github.com/ledgerkit/devicesync/internal/notify Sink
type Sink interface {
	Emit(ctx context.Context, n Notification)
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(ctx context.Context, n Notification)

// Emit calls f
func (f SinkFunc) Emit(ctx context.Context, n Notification) {
	f(ctx, n)
}

// Discard drops every notification
var Discard Sink = SinkFunc(func(context.Context, Notification) {})

type multi []Sink

// Multi returns a sink that forwards to every non-nil sink in order
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) Emit(ctx context.Context, n Notification) {
	for _, s := range m {
		s.Emit(ctx, n)
	}
}

// LogSink writes notifications to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Emit logs the notification at debug level, errors at warn
func (l *LogSink) Emit(ctx context.Context, n Notification) {
	attrs := []any{"notification", string(n.Name), "stream", n.StreamID}
	if n.Summary != nil {
		attrs = append(attrs,
			"mode", n.Summary.Mode,
			"segments_applied", n.Summary.SegmentsApplied,
			"events_applied", n.Summary.EventsApplied,
			"events_pushed", n.Summary.EventsPushed,
			"duration_ms", n.Summary.DurationMillis)
	}
	if n.Error != nil {
		attrs = append(attrs, "error", n.Error.Message, "retry_class", n.Error.RetryClass)
		if n.Error.Code != "" {
			attrs = append(attrs, "code", n.Error.Code)
		}
		l.logger.WarnContext(ctx, "Sync notification", attrs...)
		return
	}
	l.logger.DebugContext(ctx, "Sync notification", attrs...)
}
