package sync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/ledgerkit/devicesync/internal/ledger"
	"github.com/ledgerkit/devicesync/internal/otel"
	"github.com/ledgerkit/devicesync/internal/protocol"
	"github.com/ledgerkit/devicesync/internal/syncerr"
)

// integrityError reports locally detected corruption the same way the server does
func integrityError(code, format string, args ...any) *syncerr.Error {
	return syncerr.APIStructured(http.StatusConflict, code, fmt.Sprintf(format, args...), nil)
}

// bootstrap restores the stream from the latest snapshot and returns the
// cursor the snapshot represents. The previous cursor is left untouched on
// any failure.
func (o *orchestrator) bootstrap(
	ctx context.Context, streamID string, previous *ledger.Cursor, result *SyncResult,
) (*ledger.Cursor, error) {
	reason := bootstrapReasonFreshInstall
	if previous != nil && previous.BootstrapReason != "" {
		reason = string(previous.BootstrapReason)
	}

	ctx, span := otel.StartSpan(ctx, o.tracer, "sync.Bootstrap",
		trace.WithAttributes(otel.AttrStreamID.String(streamID)))
	defer span.End()

	slog.Info("Bootstrapping stream from snapshot", "stream", streamID, "reason", reason)

	snapshot, err := o.client.FetchSnapshot(ctx, streamID)
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	now := o.clock.Now().UTC()
	state := ledger.SnapshotState{StreamID: streamID, AppliedAt: now}
	cursor := ledger.NewCursor(streamID)
	cursor.UpdatedAt = now

	if snapshot == nil {
		// the server has nothing to restore; start the stream from scratch
		slog.Info("No snapshot available, starting stream from the beginning", "stream", streamID)
	} else {
		span.SetAttributes(otel.AttrSnapshotID.String(snapshot.SnapshotID))

		if err := protocol.VerifyChecksum(snapshot.Data, snapshot.Checksum); err != nil {
			se := integrityError(syncerr.CodeSnapshotChecksumMismatch,
				"snapshot %s of stream %s: %v", snapshot.SnapshotID, streamID, err)
			otel.RecordError(span, se)
			return nil, se
		}

		state.SnapshotID = snapshot.SnapshotID
		state.Data = snapshot.Data
		cursor.SegmentIndex = snapshot.AsOf.SegmentIndex
		cursor.EventIndex = snapshot.AsOf.EventIndex
		cursor.SnapshotID = snapshot.SnapshotID
		cursor.StalenessToken = snapshot.CursorToken
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.store.ReplaceWithSnapshot(ctx, state, cursor); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	result.SnapshotApplied = true
	o.metrics.RecordBootstrap(ctx, streamID, reason)

	slog.Info("Stream restored from snapshot",
		"stream", streamID,
		"snapshot_id", state.SnapshotID,
		"segment_index", cursor.SegmentIndex,
		"event_index", cursor.EventIndex)

	return &cursor, nil
}

// pull applies segments after cursor until the server has no more
func (o *orchestrator) pull(ctx context.Context, streamID string, cursor *ledger.Cursor, result *SyncResult) error {
	current := *cursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := o.client.FetchSegment(ctx, streamID, current)
		if err != nil {
			return err
		}
		if page == nil || page.Segment == nil {
			return nil
		}

		next, err := o.applySegment(ctx, streamID, current, page)
		if err != nil {
			return err
		}
		current = next
		result.Cursor = &next
		result.SegmentsApplied++
		result.EventsApplied += int(page.Segment.EventCount())

		if !page.HasMore {
			return nil
		}
	}
}

// applySegment verifies one segment against the cursor and commits it.
// Nothing is written unless every check passes.
func (o *orchestrator) applySegment(
	ctx context.Context, streamID string, cursor ledger.Cursor, page *protocol.SegmentPage,
) (ledger.Cursor, error) {
	seg := page.Segment

	ctx, span := otel.StartSpan(ctx, o.tracer, "sync.ApplySegment",
		trace.WithAttributes(
			otel.AttrStreamID.String(streamID),
			otel.AttrSegmentIndex.Int64(seg.SegmentIndex),
		))
	defer span.End()

	events, err := verifySegment(streamID, cursor, seg)
	if err != nil {
		otel.RecordError(span, err)
		return cursor, err
	}

	next := cursor.Advanced(seg.SegmentIndex, seg.LastEventIndex, page.CursorToken, o.clock.Now().UTC())
	if err := o.store.CommitSegment(ctx, streamID, events, next); err != nil {
		otel.RecordError(span, err)
		return cursor, fmt.Errorf("failed to commit segment %d: %w", seg.SegmentIndex, err)
	}

	span.SetAttributes(otel.AttrEventCount.Int(len(events)))
	o.metrics.RecordSegmentApplied(ctx, streamID, len(events))

	slog.Debug("Segment applied",
		"stream", streamID,
		"segment_index", seg.SegmentIndex,
		"first_event_index", seg.FirstEventIndex,
		"last_event_index", seg.LastEventIndex)

	return next, nil
}

// verifySegment checks the checksum, the position and the events of a
// segment, in that order, and returns the decoded events
func verifySegment(streamID string, cursor ledger.Cursor, seg *protocol.Segment) ([]ledger.Event, error) {
	if err := protocol.VerifyChecksum(seg.Data, seg.Checksum); err != nil {
		return nil, integrityError(syncerr.CodeSegmentChecksumMismatch,
			"segment %d of stream %s: %v", seg.SegmentIndex, streamID, err)
	}
	if seg.StreamID != "" && seg.StreamID != streamID {
		return nil, integrityError(syncerr.CodeSegmentStreamMismatch,
			"segment %d belongs to stream %s, expected %s", seg.SegmentIndex, seg.StreamID, streamID)
	}
	if seg.SegmentIndex != cursor.NextSegmentIndex() {
		return nil, integrityError(syncerr.CodeEventIndexMismatch,
			"stream %s: expected segment %d, got %d", streamID, cursor.NextSegmentIndex(), seg.SegmentIndex)
	}
	if seg.FirstEventIndex != cursor.NextEventIndex() {
		return nil, integrityError(syncerr.CodeEventIndexMismatch,
			"stream %s segment %d: expected first event %d, got %d",
			streamID, seg.SegmentIndex, cursor.NextEventIndex(), seg.FirstEventIndex)
	}
	if seg.EventCount() < 0 {
		return nil, integrityError(syncerr.CodeSegmentOffsetInvalid,
			"stream %s segment %d: last event %d before first event %d",
			streamID, seg.SegmentIndex, seg.LastEventIndex, seg.FirstEventIndex)
	}

	events, err := seg.DecodeEvents()
	if err != nil {
		return nil, syncerr.Decode(err)
	}
	if int64(len(events)) != seg.EventCount() {
		return nil, integrityError(syncerr.CodeEventIndexMismatch,
			"stream %s segment %d: declares %d events, holds %d",
			streamID, seg.SegmentIndex, seg.EventCount(), len(events))
	}

	for i := range events {
		e := &events[i]
		if e.StreamID == "" {
			e.StreamID = streamID
		}
		if e.StreamID != streamID {
			return nil, integrityError(syncerr.CodeSegmentStreamMismatch,
				"stream %s segment %d: event %s belongs to stream %s",
				streamID, seg.SegmentIndex, e.EventID, e.StreamID)
		}
		if want := seg.FirstEventIndex + int64(i); e.Index != want {
			return nil, integrityError(syncerr.CodeEventIndexMismatch,
				"stream %s segment %d: expected event index %d, got %d",
				streamID, seg.SegmentIndex, want, e.Index)
		}
	}
	return events, nil
}

// push sends the outbox in batches and drops what the server acknowledged
func (o *orchestrator) push(ctx context.Context, streamID string, result *SyncResult) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pending, err := o.store.PendingEvents(ctx, streamID, o.pushBatchSize)
		if err != nil {
			return fmt.Errorf("failed to read outbox: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		ack, err := o.client.PushEvents(ctx, streamID, pending)
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(pending))
		for _, e := range pending {
			ids = append(ids, e.EventID)
		}
		if err := o.store.MarkPushed(ctx, streamID, ids); err != nil {
			return fmt.Errorf("failed to clear pushed events: %w", err)
		}

		accepted := len(pending)
		if ack != nil {
			accepted = ack.Accepted
		}
		result.EventsPushed += accepted
		o.metrics.RecordEventsPushed(ctx, streamID, accepted)

		slog.Debug("Pushed local events", "stream", streamID, "sent", len(pending), "accepted", accepted)

		if len(pending) < o.pushBatchSize {
			return nil
		}
	}
}
