package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerkit/devicesync/database"
	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/db"
	"github.com/ledgerkit/devicesync/internal/ledger"
)

const (
	selectCursor = `SELECT stream_id, segment_index, event_index, staleness_token, snapshot_id,
       bootstrap_required, bootstrap_reason, updated_at
  FROM sync_cursors`

	upsertCursor = `INSERT INTO sync_cursors (stream_id, segment_index, event_index, staleness_token,
       snapshot_id, bootstrap_required, bootstrap_reason, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (stream_id) DO UPDATE SET
       segment_index = excluded.segment_index,
       event_index = excluded.event_index,
       staleness_token = excluded.staleness_token,
       snapshot_id = excluded.snapshot_id,
       bootstrap_required = excluded.bootstrap_required,
       bootstrap_reason = excluded.bootstrap_reason,
       updated_at = excluded.updated_at`

	flagBootstrap = `INSERT INTO sync_cursors (stream_id, segment_index, event_index, staleness_token,
       snapshot_id, bootstrap_required, bootstrap_reason, updated_at)
VALUES (?, ?, ?, '', '', ?, ?, ?)
ON CONFLICT (stream_id) DO UPDATE SET
       bootstrap_required = excluded.bootstrap_required,
       bootstrap_reason = excluded.bootstrap_reason,
       updated_at = excluded.updated_at`

	upsertEvent = `INSERT INTO ledger_events (stream_id, event_index, event_id, payload, occurred_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (stream_id, event_index) DO UPDATE SET
       event_id = excluded.event_id,
       payload = excluded.payload,
       occurred_at = excluded.occurred_at`

	upsertSnapshot = `INSERT INTO ledger_snapshots (stream_id, snapshot_id, data, applied_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (stream_id) DO UPDATE SET
       snapshot_id = excluded.snapshot_id,
       data = excluded.data,
       applied_at = excluded.applied_at`

	insertOutbox = `INSERT INTO outbox_events (stream_id, event_id, payload, occurred_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (stream_id, event_id) DO NOTHING`
)

// sqlStore keeps the ledger in SQLite or PostgreSQL. Both dialects share the
// same statements, written with "?" placeholders and rebound per dialect.
type sqlStore struct {
	conn *db.Connection
	now  func() time.Time
}

// NewSQLiteStore opens the SQLite database at path and migrates it to the latest schema
func NewSQLiteStore(ctx context.Context, path string) (Store, error) {
	conn, err := db.NewSQLiteConnection(ctx, path)
	if err != nil {
		return nil, err
	}
	return newSQLStore(ctx, conn)
}

// NewPostgresStore connects to PostgreSQL and migrates it to the latest schema
func NewPostgresStore(ctx context.Context, cfg *config.DatabaseConfig) (Store, error) {
	conn, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newSQLStore(ctx, conn)
}

func newSQLStore(ctx context.Context, conn *db.Connection) (Store, error) {
	if err := database.MigrateUp(ctx, conn.DB, conn.Dialect); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Error("Failed to close database after migration failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &sqlStore{conn: conn, now: time.Now}, nil
}

func (s *sqlStore) q(query string) string {
	return db.Rebind(s.conn.Dialect, query)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCursor(row rowScanner) (*ledger.Cursor, error) {
	var (
		c         ledger.Cursor
		reason    string
		updatedAt int64
	)
	err := row.Scan(&c.StreamID, &c.SegmentIndex, &c.EventIndex, &c.StalenessToken, &c.SnapshotID,
		&c.BootstrapRequired, &reason, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.BootstrapReason = ledger.BootstrapReason(reason)
	c.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &c, nil
}

func (s *sqlStore) loadCursor(ctx context.Context, tx *sql.Tx, streamID string) (*ledger.Cursor, error) {
	query := s.q(selectCursor + " WHERE stream_id = ?")

	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, query, streamID)
	} else {
		row = s.conn.DB.QueryRowContext(ctx, query, streamID)
	}

	cursor, err := scanCursor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor for stream '%s': %w", streamID, err)
	}
	return cursor, nil
}

func (s *sqlStore) LoadCursor(ctx context.Context, streamID string) (*ledger.Cursor, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}
	return s.loadCursor(ctx, nil, streamID)
}

func (s *sqlStore) ListCursors(ctx context.Context) ([]ledger.Cursor, error) {
	rows, err := s.conn.DB.QueryContext(ctx, selectCursor+" ORDER BY stream_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cursors := []ledger.Cursor{}
	for rows.Next() {
		cursor, err := scanCursor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cursor: %w", err)
		}
		cursors = append(cursors, *cursor)
	}
	return cursors, rows.Err()
}

func (s *sqlStore) MarkBootstrapRequired(ctx context.Context, streamID string, reason ledger.BootstrapReason) error {
	if err := validateStreamID(streamID); err != nil {
		return err
	}

	_, err := s.conn.DB.ExecContext(ctx, s.q(flagBootstrap),
		streamID, ledger.NoIndex, ledger.NoIndex, true, string(reason), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to flag stream '%s' for bootstrap: %w", streamID, err)
	}
	return nil
}

func (s *sqlStore) writeCursor(ctx context.Context, tx *sql.Tx, cursor ledger.Cursor) error {
	_, err := tx.ExecContext(ctx, s.q(upsertCursor),
		cursor.StreamID, cursor.SegmentIndex, cursor.EventIndex, cursor.StalenessToken, cursor.SnapshotID,
		cursor.BootstrapRequired, string(cursor.BootstrapReason), cursor.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write cursor for stream '%s': %w", cursor.StreamID, err)
	}
	return nil
}

func (s *sqlStore) CommitSegment(
	ctx context.Context, streamID string, events []ledger.Event, cursor ledger.Cursor,
) error {
	if err := validateStreamID(streamID); err != nil {
		return err
	}
	cursor.StreamID = streamID

	return s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.loadCursor(ctx, tx, streamID)
		if err != nil && !errors.Is(err, ErrCursorNotFound) {
			return err
		}
		if err := checkAdvance(current, cursor); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, s.q(upsertEvent))
		if err != nil {
			return fmt.Errorf("failed to prepare event upsert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, e := range events {
			_, err := stmt.ExecContext(ctx, streamID, e.Index, e.EventID, string(e.Payload), e.Timestamp.UnixMilli())
			if err != nil {
				return fmt.Errorf("failed to store event %d of stream '%s': %w", e.Index, streamID, err)
			}
		}

		return s.writeCursor(ctx, tx, cursor)
	})
}

func (s *sqlStore) ReplaceWithSnapshot(ctx context.Context, state ledger.SnapshotState, cursor ledger.Cursor) error {
	if err := validateStreamID(state.StreamID); err != nil {
		return err
	}
	cursor.StreamID = state.StreamID

	data := state.Data
	if data == nil {
		data = []byte{}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q("DELETE FROM ledger_events WHERE stream_id = ?"), state.StreamID); err != nil {
			return fmt.Errorf("failed to clear events for stream '%s': %w", state.StreamID, err)
		}
		_, err := tx.ExecContext(ctx, s.q(upsertSnapshot),
			state.StreamID, state.SnapshotID, data, state.AppliedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to write snapshot for stream '%s': %w", state.StreamID, err)
		}
		return s.writeCursor(ctx, tx, cursor)
	})
}

func (s *sqlStore) LoadSnapshot(ctx context.Context, streamID string) (*ledger.SnapshotState, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}

	var (
		state     = ledger.SnapshotState{StreamID: streamID}
		appliedAt int64
	)
	err := s.conn.DB.QueryRowContext(ctx,
		s.q("SELECT snapshot_id, data, applied_at FROM ledger_snapshots WHERE stream_id = ?"), streamID,
	).Scan(&state.SnapshotID, &state.Data, &appliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for stream '%s': %w", streamID, err)
	}
	state.AppliedAt = time.UnixMilli(appliedAt).UTC()
	return &state, nil
}

func (s *sqlStore) ListEvents(ctx context.Context, streamID string, fromIndex int64, limit int) ([]ledger.Event, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}

	query := `SELECT event_index, event_id, payload, occurred_at FROM ledger_events
 WHERE stream_id = ? AND event_index >= ? ORDER BY event_index`
	args := []any{streamID, fromIndex}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for stream '%s': %w", streamID, err)
	}
	defer func() { _ = rows.Close() }()

	events := []ledger.Event{}
	for rows.Next() {
		e := ledger.Event{StreamID: streamID}
		if err := scanEventFields(rows, &e.Index, &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *sqlStore) AppendLocalEvents(
	ctx context.Context, streamID string, events []ledger.Event,
) ([]ledger.Event, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}

	added := make([]ledger.Event, 0, len(events))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range prepareLocalEvents(streamID, events, s.now()) {
			res, err := tx.ExecContext(ctx, s.q(insertOutbox),
				streamID, e.EventID, string(e.Payload), e.Timestamp.UnixMilli())
			if err != nil {
				return fmt.Errorf("failed to queue event %s: %w", e.EventID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n > 0 {
				added = append(added, e)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

func (s *sqlStore) PendingEvents(ctx context.Context, streamID string, limit int) ([]ledger.Event, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}

	query := "SELECT event_id, payload, occurred_at FROM outbox_events WHERE stream_id = ? ORDER BY seq"
	args := []any{streamID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.DB.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox for stream '%s': %w", streamID, err)
	}
	defer func() { _ = rows.Close() }()

	events := []ledger.Event{}
	for rows.Next() {
		e := ledger.Event{StreamID: streamID, Index: ledger.NoIndex}
		if err := scanEventFields(rows, nil, &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// scanEventFields reads [index,] event_id, payload and occurred_at into e
func scanEventFields(rows *sql.Rows, index *int64, e *ledger.Event) error {
	var (
		payload    string
		occurredAt int64
		err        error
	)
	if index != nil {
		err = rows.Scan(index, &e.EventID, &payload, &occurredAt)
	} else {
		err = rows.Scan(&e.EventID, &payload, &occurredAt)
	}
	if err != nil {
		return fmt.Errorf("failed to scan event: %w", err)
	}
	if payload != "" {
		e.Payload = json.RawMessage(payload)
	}
	e.Timestamp = time.UnixMilli(occurredAt).UTC()
	return nil
}

func (s *sqlStore) MarkPushed(ctx context.Context, streamID string, eventIDs []string) error {
	if err := validateStreamID(streamID); err != nil {
		return err
	}
	if len(eventIDs) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q("DELETE FROM outbox_events WHERE stream_id = ? AND event_id = ?"))
		if err != nil {
			return err
		}
		defer func() { _ = stmt.Close() }()

		for _, id := range eventIDs {
			if _, err := stmt.ExecContext(ctx, streamID, id); err != nil {
				return fmt.Errorf("failed to remove pushed event %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) Close() error {
	return s.conn.Close()
}

func (s *sqlStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
