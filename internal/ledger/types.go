// Package ledger contains the data model shared by the sync protocol client,
// the local store and the orchestrator.
package ledger

import (
	"encoding/json"
	"time"
)

// NoIndex marks a cursor position that has not confirmed any segment or event yet
const NoIndex int64 = -1

// Event is a single entry of an append-only stream
type Event struct {
	// EventID is a UUID used for idempotent upsert and push de-duplication
	EventID string `json:"eventId"`

	// StreamID is the stream the event belongs to
	StreamID string `json:"streamId"`

	// Index is the 0-based, gapless position within the stream.
	// Events in the local outbox carry NoIndex until the server assigns one.
	Index int64 `json:"index"`

	// Payload is the opaque event body
	Payload json.RawMessage `json:"payload"`

	// Timestamp is when the event was produced
	Timestamp time.Time `json:"timestamp"`
}

// BootstrapReason records why the next pass must restore from a snapshot
type BootstrapReason string

const (
	// BootstrapReasonStaleCursor means the server no longer holds segments after the cursor
	BootstrapReasonStaleCursor BootstrapReason = "stale-cursor"

	// BootstrapReasonIntegrity means a segment or snapshot failed verification
	BootstrapReasonIntegrity BootstrapReason = "integrity-error"
)

// Cursor is the per-stream sync position of this device.
type Cursor struct {
	// StreamID identifies the stream
	StreamID string `json:"streamId"`

	// SegmentIndex is the last confirmed segment, NoIndex if none
	SegmentIndex int64 `json:"segmentIndex"`

	// EventIndex is the last confirmed event, NoIndex if none
	EventIndex int64 `json:"eventIndex"`

	// StalenessToken is an opaque value supplied by the server
	StalenessToken string `json:"stalenessToken,omitempty"`

	// SnapshotID is the snapshot the local state was last restored from
	SnapshotID string `json:"snapshotId,omitempty"`

	// BootstrapRequired forces the next pass to restore from a snapshot
	BootstrapRequired bool `json:"bootstrapRequired,omitempty"`

	// BootstrapReason explains BootstrapRequired
	BootstrapReason BootstrapReason `json:"bootstrapReason,omitempty"`

	// UpdatedAt is when the cursor was last persisted
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewCursor returns the position of a stream that never synced
func NewCursor(streamID string) Cursor {
	return Cursor{
		StreamID:     streamID,
		SegmentIndex: NoIndex,
		EventIndex:   NoIndex,
	}
}

// NextSegmentIndex is the segment index expected next
func (c Cursor) NextSegmentIndex() int64 {
	return c.SegmentIndex + 1
}

// NextEventIndex is the event index expected next
func (c Cursor) NextEventIndex() int64 {
	return c.EventIndex + 1
}

// Advanced returns the cursor moved past a verified segment.
// The bootstrap flag is cleared since the stream is consistent again.
func (c Cursor) Advanced(segmentIndex, lastEventIndex int64, token string, now time.Time) Cursor {
	next := c
	next.SegmentIndex = segmentIndex
	next.EventIndex = lastEventIndex
	if token != "" {
		next.StalenessToken = token
	}
	next.BootstrapRequired = false
	next.BootstrapReason = ""
	next.UpdatedAt = now
	return next
}

// IsAfter reports whether c is strictly ahead of other
func (c Cursor) IsAfter(other Cursor) bool {
	return c.SegmentIndex > other.SegmentIndex && c.EventIndex >= other.EventIndex
}

// SnapshotState is the materialized state of a stream restored from a snapshot
type SnapshotState struct {
	SnapshotID string    `json:"snapshotId"`
	StreamID   string    `json:"streamId"`
	Data       []byte    `json:"data"`
	AppliedAt  time.Time `json:"appliedAt"`
}
