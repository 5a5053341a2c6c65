// Package store persists the local side of the ledger: per-stream cursors,
// the applied events, the last restored snapshot and the outbox of events
// produced on this device that still have to be pushed.
//
// Every backend gives the same guarantees. A segment's events and the cursor
// that confirms them become visible together or not at all, and the cursor
// never moves backwards except through ReplaceWithSnapshot.
package store

import (
	"context"
	"errors"

	"github.com/ledgerkit/devicesync/internal/ledger"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/ledgerkit/devicesync/internal/store Store

var (
	// ErrCursorNotFound is returned when a stream has never been synced
	ErrCursorNotFound = errors.New("cursor not found")

	// ErrSnapshotNotFound is returned when no snapshot was restored for a stream
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrCursorRegression is returned when a commit would not move the cursor forward
	ErrCursorRegression = errors.New("cursor does not advance")

	// ErrStoreLocked is returned when another process holds the store
	ErrStoreLocked = errors.New("store is locked by another process")

	// ErrInvalidStreamID is returned for stream identifiers that cannot be stored
	ErrInvalidStreamID = errors.New("invalid stream id")
)

// CursorStore keeps the per-stream sync position
type CursorStore interface {
	// LoadCursor returns the cursor of a stream, or ErrCursorNotFound
	LoadCursor(ctx context.Context, streamID string) (*ledger.Cursor, error)

	// ListCursors returns the cursors of every known stream ordered by stream ID
	ListCursors(ctx context.Context) ([]ledger.Cursor, error)

	// MarkBootstrapRequired flags a stream so that its next pass restores from a snapshot.
	// A stream without a cursor gets a fresh one carrying the flag.
	MarkBootstrapRequired(ctx context.Context, streamID string, reason ledger.BootstrapReason) error
}

// LedgerStore keeps the events and snapshots received from the remote service
type LedgerStore interface {
	// CommitSegment applies the events of one verified segment and persists the
	// advanced cursor atomically. Events are upserted by index, so re-applying
	// a segment after a crash is harmless. Returns ErrCursorRegression when
	// cursor is not ahead of the stored one.
	CommitSegment(ctx context.Context, streamID string, events []ledger.Event, cursor ledger.Cursor) error

	// ReplaceWithSnapshot discards the applied events of a stream, stores the
	// materialized state and replaces the cursor wholesale.
	ReplaceWithSnapshot(ctx context.Context, state ledger.SnapshotState, cursor ledger.Cursor) error

	// LoadSnapshot returns the last restored snapshot, or ErrSnapshotNotFound
	LoadSnapshot(ctx context.Context, streamID string) (*ledger.SnapshotState, error)

	// ListEvents returns applied events with Index >= fromIndex in index order.
	// A limit <= 0 returns all of them.
	ListEvents(ctx context.Context, streamID string, fromIndex int64, limit int) ([]ledger.Event, error)
}

// Outbox keeps events produced on this device until the remote service accepts them
type Outbox interface {
	// AppendLocalEvents queues events for pushing. Missing event IDs and
	// timestamps are filled in; events whose ID is already queued are skipped.
	// Returns the events as queued.
	AppendLocalEvents(ctx context.Context, streamID string, events []ledger.Event) ([]ledger.Event, error)

	// PendingEvents returns queued events in insertion order.
	// A limit <= 0 returns all of them.
	PendingEvents(ctx context.Context, streamID string, limit int) ([]ledger.Event, error)

	// MarkPushed removes acknowledged events from the queue
	MarkPushed(ctx context.Context, streamID string, eventIDs []string) error
}

// Store is the full local persistence surface used by the orchestrator
type Store interface {
	CursorStore
	LedgerStore
	Outbox

	// Close releases the underlying files or connections
	Close() error
}
