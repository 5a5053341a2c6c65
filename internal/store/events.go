package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerkit/devicesync/internal/ledger"
)

func validateStreamID(streamID string) error {
	switch {
	case strings.TrimSpace(streamID) == "":
		return fmt.Errorf("%w: empty", ErrInvalidStreamID)
	case streamID == "." || streamID == "..":
		return fmt.Errorf("%w: %q", ErrInvalidStreamID, streamID)
	}
	return nil
}

// prepareLocalEvents assigns IDs and timestamps to new outbox events and
// drops duplicates within the batch
func prepareLocalEvents(streamID string, events []ledger.Event, now time.Time) []ledger.Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]ledger.Event, 0, len(events))
	for _, e := range events {
		if e.EventID == "" {
			e.EventID = uuid.NewString()
		}
		if _, dup := seen[e.EventID]; dup {
			continue
		}
		seen[e.EventID] = struct{}{}

		e.StreamID = streamID
		e.Index = ledger.NoIndex
		if e.Timestamp.IsZero() {
			e.Timestamp = now
		}
		e.Timestamp = e.Timestamp.UTC().Truncate(time.Millisecond)
		out = append(out, e)
	}
	return out
}

// checkAdvance enforces that a committed cursor moves strictly forward
func checkAdvance(current *ledger.Cursor, next ledger.Cursor) error {
	if current == nil {
		return nil
	}
	if !next.IsAfter(*current) {
		return fmt.Errorf("%w: stream %s at segment %d event %d, commit at segment %d event %d",
			ErrCursorRegression, next.StreamID,
			current.SegmentIndex, current.EventIndex, next.SegmentIndex, next.EventIndex)
	}
	return nil
}
