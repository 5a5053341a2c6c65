// Package helpers provides the fake cloud service and daemon harness used by
// the integration tests.
package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ledgerkit/devicesync/internal/api/common"
	"github.com/ledgerkit/devicesync/internal/ledger"
	"github.com/ledgerkit/devicesync/internal/protocol"
)

// FakeCloud serves the sync API from memory
type FakeCloud struct {
	server *httptest.Server

	mu      sync.Mutex
	token   string
	streams map[string]*fakeStream
}

type fakeStream struct {
	segments  []protocol.Segment
	snapshot  *protocol.Snapshot
	nextEvent int64
	nextIndex int64
	corrupt   bool
	pushed    []ledger.Event
}

// NewFakeCloud starts a fake sync API accepting only the given bearer token
func NewFakeCloud(token string) *FakeCloud {
	c := &FakeCloud{
		token:   token,
		streams: make(map[string]*fakeStream),
	}

	r := chi.NewRouter()
	r.Use(c.authenticate)
	r.Route("/api/v1/sync/streams/{streamID}", func(r chi.Router) {
		r.Get("/segments", c.getSegment)
		r.Get("/snapshots/latest", c.getLatestSnapshot)
		r.Get("/snapshots/{snapshotID}", c.getSnapshotData)
		r.Post("/events", c.pushEvents)
	})

	c.server = httptest.NewServer(r)
	return c
}

// URL is the base URL of the fake service
func (c *FakeCloud) URL() string {
	return c.server.URL
}

// Close shuts the fake service down
func (c *FakeCloud) Close() {
	c.server.Close()
}

// AppendSegment publishes one segment holding an event per payload
func (c *FakeCloud) AppendSegment(streamID string, payloads ...string) protocol.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stream(streamID)
	events := make([]ledger.Event, 0, len(payloads))
	for i, p := range payloads {
		events = append(events, ledger.Event{
			EventID:   uuid.NewString(),
			StreamID:  streamID,
			Index:     s.nextEvent + int64(i),
			Payload:   json.RawMessage(p),
			Timestamp: time.Now().UTC(),
		})
	}
	data, err := json.Marshal(events)
	if err != nil {
		panic(fmt.Sprintf("failed to encode segment events: %v", err))
	}

	seg := protocol.Segment{
		StreamID:        streamID,
		SegmentIndex:    s.nextIndex,
		SizeBytes:       int64(len(data)),
		Checksum:        protocol.Checksum(data),
		FirstEventIndex: s.nextEvent,
		LastEventIndex:  s.nextEvent + int64(len(payloads)) - 1,
		Data:            data,
	}
	s.segments = append(s.segments, seg)
	s.nextIndex++
	s.nextEvent += int64(len(payloads))
	return seg
}

// SetSnapshot publishes a snapshot of the stream up to the current head and
// drops the segments it covers
func (c *FakeCloud) SetSnapshot(streamID string, data []byte) protocol.SnapshotMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stream(streamID)
	meta := protocol.SnapshotMetadata{
		SnapshotID: uuid.NewString(),
		StreamID:   streamID,
		AsOf:       protocol.AsOf{SegmentIndex: s.nextIndex - 1, EventIndex: s.nextEvent - 1},
		Checksum:   protocol.Checksum(data),
		SizeBytes:  int64(len(data)),
	}
	s.snapshot = &protocol.Snapshot{SnapshotMetadata: meta, Data: data}
	s.segments = nil
	return meta
}

// CorruptNextSegment serves the next fetched segment with a wrong checksum
func (c *FakeCloud) CorruptNextSegment(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stream(streamID).corrupt = true
}

// Pushed returns the events devices pushed to the stream
func (c *FakeCloud) Pushed(streamID string) []ledger.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ledger.Event(nil), c.stream(streamID).pushed...)
}

func (c *FakeCloud) stream(streamID string) *fakeStream {
	s, ok := c.streams[streamID]
	if !ok {
		s = &fakeStream{}
		c.streams[streamID] = s
	}
	return s
}

func (c *FakeCloud) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+c.token {
			common.WriteErrorResponse(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func streamParam(r *http.Request) string {
	id, err := url.PathUnescape(chi.URLParam(r, "streamID"))
	if err != nil {
		return chi.URLParam(r, "streamID")
	}
	return id
}

func (c *FakeCloud) getSegment(w http.ResponseWriter, r *http.Request) {
	after, err := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
	if err != nil {
		common.WriteErrorResponse(w, "after must be an integer", http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stream(streamParam(r))
	for i, seg := range s.segments {
		if seg.SegmentIndex != after+1 {
			continue
		}
		if s.corrupt {
			s.corrupt = false
			seg.Checksum = protocol.Checksum([]byte("corrupted"))
		}
		common.WriteJSONResponse(w, protocol.SegmentPage{
			Segment: &seg,
			HasMore: i < len(s.segments)-1,
		}, http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *FakeCloud) getLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stream(streamParam(r))
	if s.snapshot == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	common.WriteJSONResponse(w, s.snapshot.SnapshotMetadata, http.StatusOK)
}

func (c *FakeCloud) getSnapshotData(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stream(streamParam(r))
	if s.snapshot == nil || s.snapshot.SnapshotID != chi.URLParam(r, "snapshotID") {
		common.WriteErrorResponse(w, "snapshot not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(s.snapshot.Data)
}

func (c *FakeCloud) pushEvents(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Events []ledger.Event `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		common.WriteErrorResponse(w, "invalid push body", http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stream(streamParam(r))
	s.pushed = append(s.pushed, body.Events...)
	common.WriteJSONResponse(w, protocol.PushAck{
		Accepted: len(body.Events),
		Cursor: protocol.ServerCursor{
			SegmentIndex: s.nextIndex - 1,
			EventIndex:   s.nextEvent - 1,
		},
	}, http.StatusOK)
}
