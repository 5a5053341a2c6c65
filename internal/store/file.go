package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/ledgerkit/devicesync/internal/ledger"
)

const (
	lockFileName     = ".lock"
	streamsDirName   = "streams"
	segmentsDirName  = "segments"
	cursorFileName   = "cursor.json"
	snapshotFileName = "snapshot.json"
	outboxFileName   = "outbox.json"
)

// fileStore keeps each stream in its own directory:
//
//	<base>/streams/<stream>/cursor.json
//	<base>/streams/<stream>/segments/<segment index>.json
//	<base>/streams/<stream>/snapshot.json
//	<base>/streams/<stream>/outbox.json
//
// Every file is replaced by writing a temporary file and renaming it. The
// cursor is written last, so its rename is the commit point of a segment.
type fileStore struct {
	basePath string
	lock     *flock.Flock
	now      func() time.Time

	mu sync.RWMutex
}

// NewFileStore opens a file-based store rooted at basePath.
// The directory is locked for the lifetime of the store; a second process
// opening the same directory gets ErrStoreLocked.
func NewFileStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if err := os.MkdirAll(filepath.Join(basePath, streamsDirName), 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	lock := flock.New(filepath.Join(basePath, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock storage directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrStoreLocked, basePath)
	}

	slog.Debug("File store opened", "path", basePath)

	return &fileStore{
		basePath: basePath,
		lock:     lock,
		now:      time.Now,
	}, nil
}

func (f *fileStore) streamDir(streamID string) string {
	return filepath.Join(f.basePath, streamsDirName, url.PathEscape(streamID))
}

func (f *fileStore) LoadCursor(_ context.Context, streamID string) (*ledger.Cursor, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.readCursor(streamID)
}

func (f *fileStore) readCursor(streamID string) (*ledger.Cursor, error) {
	var cursor ledger.Cursor
	found, err := readJSON(filepath.Join(f.streamDir(streamID), cursorFileName), &cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor for stream '%s': %w", streamID, err)
	}
	if !found {
		return nil, ErrCursorNotFound
	}
	return &cursor, nil
}

func (f *fileStore) ListCursors(_ context.Context) ([]ledger.Cursor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(f.basePath, streamsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return []ledger.Cursor{}, nil
		}
		return nil, fmt.Errorf("failed to read streams directory: %w", err)
	}

	cursors := make([]ledger.Cursor, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		streamID, err := url.PathUnescape(entry.Name())
		if err != nil {
			slog.Warn("Skipping unrecognized stream directory", "name", entry.Name())
			continue
		}
		cursor, err := f.readCursor(streamID)
		if errors.Is(err, ErrCursorNotFound) {
			// outbox-only streams have no cursor yet
			continue
		}
		if err != nil {
			return nil, err
		}
		cursors = append(cursors, *cursor)
	}

	sort.Slice(cursors, func(i, j int) bool { return cursors[i].StreamID < cursors[j].StreamID })
	return cursors, nil
}

func (f *fileStore) MarkBootstrapRequired(_ context.Context, streamID string, reason ledger.BootstrapReason) error {
	if err := validateStreamID(streamID); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cursor, err := f.readCursor(streamID)
	if errors.Is(err, ErrCursorNotFound) {
		fresh := ledger.NewCursor(streamID)
		cursor = &fresh
	} else if err != nil {
		return err
	}

	cursor.BootstrapRequired = true
	cursor.BootstrapReason = reason
	cursor.UpdatedAt = f.now().UTC()

	return f.writeCursor(streamID, *cursor)
}

func (f *fileStore) writeCursor(streamID string, cursor ledger.Cursor) error {
	if err := writeJSONAtomic(filepath.Join(f.streamDir(streamID), cursorFileName), cursor); err != nil {
		return fmt.Errorf("failed to write cursor for stream '%s': %w", streamID, err)
	}
	return nil
}

func (f *fileStore) CommitSegment(
	_ context.Context, streamID string, events []ledger.Event, cursor ledger.Cursor,
) error {
	if err := validateStreamID(streamID); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.readCursor(streamID)
	if err != nil && !errors.Is(err, ErrCursorNotFound) {
		return err
	}
	cursor.StreamID = streamID
	if err := checkAdvance(current, cursor); err != nil {
		return err
	}

	segmentPath := filepath.Join(f.streamDir(streamID), segmentsDirName, fmt.Sprintf("%020d.json", cursor.SegmentIndex))
	if events == nil {
		events = []ledger.Event{}
	}
	if err := writeJSONAtomic(segmentPath, events); err != nil {
		return fmt.Errorf("failed to write segment %d for stream '%s': %w", cursor.SegmentIndex, streamID, err)
	}

	return f.writeCursor(streamID, cursor)
}

func (f *fileStore) ReplaceWithSnapshot(_ context.Context, state ledger.SnapshotState, cursor ledger.Cursor) error {
	if err := validateStreamID(state.StreamID); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.streamDir(state.StreamID)

	// The old cursor stays flagged for bootstrap until the new one lands
	if err := os.RemoveAll(filepath.Join(dir, segmentsDirName)); err != nil {
		return fmt.Errorf("failed to clear segments for stream '%s': %w", state.StreamID, err)
	}
	if err := writeJSONAtomic(filepath.Join(dir, snapshotFileName), state); err != nil {
		return fmt.Errorf("failed to write snapshot for stream '%s': %w", state.StreamID, err)
	}

	cursor.StreamID = state.StreamID
	return f.writeCursor(state.StreamID, cursor)
}

func (f *fileStore) LoadSnapshot(_ context.Context, streamID string) (*ledger.SnapshotState, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	var state ledger.SnapshotState
	found, err := readJSON(filepath.Join(f.streamDir(streamID), snapshotFileName), &state)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot for stream '%s': %w", streamID, err)
	}
	if !found {
		return nil, ErrSnapshotNotFound
	}
	return &state, nil
}

func (f *fileStore) ListEvents(_ context.Context, streamID string, fromIndex int64, limit int) ([]ledger.Event, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	segmentsDir := filepath.Join(f.streamDir(streamID), segmentsDirName)
	entries, err := os.ReadDir(segmentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []ledger.Event{}, nil
		}
		return nil, fmt.Errorf("failed to read segments for stream '%s': %w", streamID, err)
	}

	byIndex := make(map[int64]ledger.Event)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var events []ledger.Event
		if _, err := readJSON(filepath.Join(segmentsDir, entry.Name()), &events); err != nil {
			return nil, fmt.Errorf("failed to read segment file %s: %w", entry.Name(), err)
		}
		for _, e := range events {
			if e.Index >= fromIndex {
				byIndex[e.Index] = e
			}
		}
	}

	result := make([]ledger.Event, 0, len(byIndex))
	for _, e := range byIndex {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (f *fileStore) readOutbox(streamID string) ([]ledger.Event, error) {
	var events []ledger.Event
	if _, err := readJSON(filepath.Join(f.streamDir(streamID), outboxFileName), &events); err != nil {
		return nil, fmt.Errorf("failed to read outbox for stream '%s': %w", streamID, err)
	}
	return events, nil
}

func (f *fileStore) writeOutbox(streamID string, events []ledger.Event) error {
	if events == nil {
		events = []ledger.Event{}
	}
	if err := writeJSONAtomic(filepath.Join(f.streamDir(streamID), outboxFileName), events); err != nil {
		return fmt.Errorf("failed to write outbox for stream '%s': %w", streamID, err)
	}
	return nil
}

func (f *fileStore) AppendLocalEvents(
	_ context.Context, streamID string, events []ledger.Event,
) ([]ledger.Event, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	queued, err := f.readOutbox(streamID)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(queued))
	for _, e := range queued {
		existing[e.EventID] = struct{}{}
	}

	added := make([]ledger.Event, 0, len(events))
	for _, e := range prepareLocalEvents(streamID, events, f.now()) {
		if _, dup := existing[e.EventID]; dup {
			continue
		}
		added = append(added, e)
	}
	if len(added) == 0 {
		return added, nil
	}

	if err := f.writeOutbox(streamID, append(queued, added...)); err != nil {
		return nil, err
	}
	return added, nil
}

func (f *fileStore) PendingEvents(_ context.Context, streamID string, limit int) ([]ledger.Event, error) {
	if err := validateStreamID(streamID); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	queued, err := f.readOutbox(streamID)
	if err != nil {
		return nil, err
	}
	if queued == nil {
		queued = []ledger.Event{}
	}
	if limit > 0 && len(queued) > limit {
		queued = queued[:limit]
	}
	return queued, nil
}

func (f *fileStore) MarkPushed(_ context.Context, streamID string, eventIDs []string) error {
	if err := validateStreamID(streamID); err != nil {
		return err
	}
	if len(eventIDs) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	queued, err := f.readOutbox(streamID)
	if err != nil {
		return err
	}

	pushed := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		pushed[id] = struct{}{}
	}

	remaining := make([]ledger.Event, 0, len(queued))
	for _, e := range queued {
		if _, ok := pushed[e.EventID]; !ok {
			remaining = append(remaining, e)
		}
	}
	if len(remaining) == len(queued) {
		return nil
	}
	return f.writeOutbox(streamID, remaining)
}

func (f *fileStore) Close() error {
	if err := f.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock storage directory: %w", err)
	}
	return nil
}

// readJSON decodes a file into v and reports whether the file existed
func readJSON(path string, v any) (bool, error) {
	// #nosec G304 -- path is built from the store root and an escaped stream ID
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// writeJSONAtomic replaces path with the JSON encoding of v
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
