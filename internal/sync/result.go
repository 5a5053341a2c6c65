package sync

import (
	"time"

	"github.com/ledgerkit/devicesync/internal/ledger"
	"github.com/ledgerkit/devicesync/internal/notify"
	"github.com/ledgerkit/devicesync/internal/syncerr"
)

// Mode is the strategy a pass used to catch up
type Mode string

const (
	// ModeIncremental applies segments after the stored cursor
	ModeIncremental Mode = "incremental"
	// ModeBootstrap restores from a snapshot first, then continues incrementally
	ModeBootstrap Mode = "bootstrap"
)

// State is where a pass ended
type State string

const (
	// StateCommitted means every fetched segment was applied and the outbox drained
	StateCommitted State = "committed"
	// StateFailed means the pass stopped at an error; the cursor is the last committed one
	StateFailed State = "failed"
	// StateSkipped means the pass did not run
	StateSkipped State = "skipped"
)

// bootstrapReasonFreshInstall labels bootstraps of streams that never synced
const bootstrapReasonFreshInstall = "fresh-install"

// SyncResult is the outcome of one pass over one stream. It is not persisted.
type SyncResult struct {
	StreamID        string         `json:"streamId"`
	Mode            Mode           `json:"mode"`
	State           State          `json:"state"`
	SegmentsApplied int            `json:"segmentsApplied"`
	EventsApplied   int            `json:"eventsApplied"`
	EventsPushed    int            `json:"eventsPushed"`
	SnapshotApplied bool           `json:"snapshotApplied"`
	Cursor          *ledger.Cursor `json:"cursor,omitempty"`
	StartedAt       time.Time      `json:"startedAt"`
	Duration        time.Duration  `json:"duration"`

	// Err is the classified failure of a failed pass. A pass that failed on
	// local storage or cancellation leaves it nil and reports the cause in Message.
	Err *syncerr.Error `json:"-"`

	// Message is the failure text of a failed or skipped pass
	Message string `json:"message,omitempty"`

	// BootstrapRequired reports that the next pass will restore from a snapshot
	BootstrapRequired bool `json:"bootstrapRequired,omitempty"`
}

// Succeeded reports whether the pass committed
func (r *SyncResult) Succeeded() bool {
	return r != nil && r.State == StateCommitted
}

// RetryClass returns the retry class of a failed pass. Unclassified local
// failures are retryable; committed and skipped passes report false.
func (r *SyncResult) RetryClass() (syncerr.RetryClass, bool) {
	if r == nil || r.State != StateFailed {
		return syncerr.Retryable, false
	}
	if r.Err != nil {
		return r.Err.RetryClass(), true
	}
	return syncerr.Retryable, true
}

// summary converts a committed result to its notification payload
func (r *SyncResult) summary() *notify.Summary {
	return &notify.Summary{
		Mode:            string(r.Mode),
		SegmentsApplied: r.SegmentsApplied,
		EventsApplied:   r.EventsApplied,
		EventsPushed:    r.EventsPushed,
		SnapshotApplied: r.SnapshotApplied,
		DurationMillis:  r.Duration.Milliseconds(),
	}
}

// errorInfo converts a failed result to its notification payload
func (r *SyncResult) errorInfo() *notify.ErrorInfo {
	info := &notify.ErrorInfo{Message: r.Message}
	if class, ok := r.RetryClass(); ok {
		info.RetryClass = class.String()
	}
	if r.Err != nil {
		info.Kind = r.Err.Kind().String()
		info.Code = r.Err.Code()
	}
	return info
}

// Totals sums a set of results
type Totals struct {
	Streams         int `json:"streams"`
	Failed          int `json:"failed"`
	SegmentsApplied int `json:"segmentsApplied"`
	EventsApplied   int `json:"eventsApplied"`
	EventsPushed    int `json:"eventsPushed"`
}

// Summarize adds up the counters of results
func Summarize(results []*SyncResult) Totals {
	var t Totals
	for _, r := range results {
		if r == nil {
			continue
		}
		t.Streams++
		if r.State == StateFailed {
			t.Failed++
		}
		t.SegmentsApplied += r.SegmentsApplied
		t.EventsApplied += r.EventsApplied
		t.EventsPushed += r.EventsPushed
	}
	return t
}
