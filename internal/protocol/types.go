package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/ledgerkit/devicesync/internal/ledger"
)

// Segment is an immutable, checksummed batch of consecutive events
type Segment struct {
	StreamID        string `json:"streamId"`
	SegmentIndex    int64  `json:"segmentIndex"`
	SizeBytes       int64  `json:"sizeBytes"`
	Checksum        string `json:"checksum"`
	FirstEventIndex int64  `json:"firstEventIndex"`
	LastEventIndex  int64  `json:"lastEventIndex"`

	// Data is the raw segment body the checksum is computed over.
	// It travels base64 encoded in JSON.
	Data []byte `json:"data"`
}

// EventCount is the number of events the segment declares
func (s *Segment) EventCount() int64 {
	return s.LastEventIndex - s.FirstEventIndex + 1
}

// DecodeEvents parses the segment body as a JSON array of events.
// It must only be called after the checksum has been verified.
func (s *Segment) DecodeEvents() ([]ledger.Event, error) {
	var events []ledger.Event
	if err := json.Unmarshal(s.Data, &events); err != nil {
		return nil, fmt.Errorf("failed to decode events of segment %d: %w", s.SegmentIndex, err)
	}
	return events, nil
}

// SegmentPage is the answer to a segment fetch
type SegmentPage struct {
	// Segment is nil when there are no further segments after the cursor
	Segment *Segment `json:"segment"`

	// HasMore reports whether more segments follow this one
	HasMore bool `json:"hasMore"`

	// CursorToken is the staleness token the server wants echoed back
	CursorToken string `json:"cursorToken,omitempty"`
}

// AsOf is the stream position a snapshot represents
type AsOf struct {
	SegmentIndex int64 `json:"segmentIndex"`
	EventIndex   int64 `json:"eventIndex"`
}

// SnapshotMetadata describes the latest snapshot of a stream
type SnapshotMetadata struct {
	SnapshotID  string `json:"snapshotId"`
	StreamID    string `json:"streamId"`
	AsOf        AsOf   `json:"asOf"`
	Checksum    string `json:"checksum"`
	SizeBytes   int64  `json:"sizeBytes"`
	CursorToken string `json:"cursorToken,omitempty"`
}

// Snapshot is the full materialized state of a stream
type Snapshot struct {
	SnapshotMetadata

	Data []byte
}

// ServerCursor is the server's view of the stream head after a push
type ServerCursor struct {
	SegmentIndex   int64  `json:"segmentIndex"`
	EventIndex     int64  `json:"eventIndex"`
	StalenessToken string `json:"stalenessToken,omitempty"`
}

// PushAck acknowledges pushed events
type PushAck struct {
	Accepted int          `json:"accepted"`
	Cursor   ServerCursor `json:"cursor"`
}

// pushRequest is the body of an events push
type pushRequest struct {
	Events []ledger.Event `json:"events"`
}
