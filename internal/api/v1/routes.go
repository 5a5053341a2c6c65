// Package v1 provides the local sync control API: status, interactive
// triggers and a Server-Sent Events stream of lifecycle notifications.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerkit/devicesync/internal/api/common"
	"github.com/ledgerkit/devicesync/internal/ledger"
	"github.com/ledgerkit/devicesync/internal/notify"
	"github.com/ledgerkit/devicesync/internal/store"
	pkgsync "github.com/ledgerkit/devicesync/internal/sync"
	"github.com/ledgerkit/devicesync/internal/syncerr"
)

// KeepAliveInterval is how often an idle event stream receives a comment line
const KeepAliveInterval = 30 * time.Second

// Routes holds the dependencies of the sync handlers
type Routes struct {
	orchestrator pkgsync.Orchestrator
	cursors      store.CursorStore
	events       *notify.Broadcaster
}

// NewRoutes creates a new Routes instance. events may be nil, in which case
// the event stream endpoint answers 404.
func NewRoutes(orchestrator pkgsync.Orchestrator, cursors store.CursorStore, events *notify.Broadcaster) *Routes {
	return &Routes{
		orchestrator: orchestrator,
		cursors:      cursors,
		events:       events,
	}
}

// Router creates the router mounted at /api/v1/sync
func Router(orchestrator pkgsync.Orchestrator, cursors store.CursorStore, events *notify.Broadcaster) http.Handler {
	routes := NewRoutes(orchestrator, cursors, events)

	r := chi.NewRouter()

	r.Post("/", routes.runAll)
	r.Get("/status", routes.getStatus)
	r.Get("/events", routes.streamEvents)

	r.Route("/streams/{streamID}", func(r chi.Router) {
		r.Get("/", routes.getStream)
		r.Post("/", routes.runStream)
	})

	return r
}

// getStatus handles GET /api/v1/sync/status
func (rr *Routes) getStatus(w http.ResponseWriter, r *http.Request) {
	cursors, err := rr.cursors.ListCursors(r.Context())
	if err != nil {
		slog.Error("Failed to list cursors", "error", err)
		common.WriteErrorResponse(w, "Failed to read sync status", http.StatusInternalServerError)
		return
	}

	byStream := make(map[string]ledger.Cursor, len(cursors))
	for _, c := range cursors {
		byStream[c.StreamID] = c
	}
	last := make(map[string]*pkgsync.SyncResult)
	for _, res := range rr.orchestrator.LastResults() {
		last[res.StreamID] = res
	}

	streams := rr.orchestrator.Streams()
	resp := StatusResponse{Streams: make([]StreamStatus, 0, len(streams))}
	for _, id := range streams {
		status := StreamStatus{StreamID: id, LastResult: last[id]}
		if c, ok := byStream[id]; ok {
			status.Cursor = &c
		}
		resp.Streams = append(resp.Streams, status)
	}

	common.WriteJSONResponse(w, resp, http.StatusOK)
}

// getStream handles GET /api/v1/sync/streams/{streamID}
func (rr *Routes) getStream(w http.ResponseWriter, r *http.Request) {
	streamID, ok := rr.configuredStream(w, r)
	if !ok {
		return
	}

	status := StreamStatus{StreamID: streamID}
	cursor, err := rr.cursors.LoadCursor(r.Context(), streamID)
	switch {
	case err == nil:
		status.Cursor = cursor
	case errors.Is(err, store.ErrCursorNotFound):
	default:
		slog.Error("Failed to load cursor", "stream_id", streamID, "error", err)
		common.WriteErrorResponse(w, "Failed to read sync status", http.StatusInternalServerError)
		return
	}

	for _, res := range rr.orchestrator.LastResults() {
		if res.StreamID == streamID {
			status.LastResult = res
		}
	}

	common.WriteJSONResponse(w, status, http.StatusOK)
}

// runAll handles POST /api/v1/sync
func (rr *Routes) runAll(w http.ResponseWriter, r *http.Request) {
	// Passes keep running when the client disconnects
	results, err := rr.orchestrator.RunAll(context.WithoutCancel(r.Context()))
	writeRunResponse(w, results, err)
}

// runStream handles POST /api/v1/sync/streams/{streamID}
func (rr *Routes) runStream(w http.ResponseWriter, r *http.Request) {
	streamID, ok := rr.configuredStream(w, r)
	if !ok {
		return
	}

	result, err := rr.orchestrator.RunPass(context.WithoutCancel(r.Context()), streamID)
	var results []*pkgsync.SyncResult
	if result != nil {
		results = append(results, result)
	}
	writeRunResponse(w, results, err)
}

// streamEvents handles GET /api/v1/sync/events
func (rr *Routes) streamEvents(w http.ResponseWriter, r *http.Request) {
	if rr.events == nil {
		common.WriteErrorResponse(w, "Event stream is not enabled", http.StatusNotFound)
		return
	}

	rc := http.NewResponseController(w)
	ch, unsubscribe := rr.events.Subscribe(notify.DefaultSubscriberBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Debug("Event stream cannot be flushed", "error", err)
		return
	}

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case n, open := <-ch:
			if !open {
				return
			}
			if err := writeEvent(w, n); err != nil {
				slog.Debug("Event stream closed", "error", err)
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, n notify.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Name, data)
	return err
}

// configuredStream extracts the stream ID and answers 400 or 404 when it is
// malformed or not configured
func (rr *Routes) configuredStream(w http.ResponseWriter, r *http.Request) (string, bool) {
	streamID, err := common.PathParam(r, "streamID")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	if !slices.Contains(rr.orchestrator.Streams(), streamID) {
		common.WriteErrorResponse(w, fmt.Sprintf("Stream %s is not configured", streamID), http.StatusNotFound)
		return "", false
	}
	return streamID, true
}

func writeRunResponse(w http.ResponseWriter, results []*pkgsync.SyncResult, err error) {
	resp := RunResponse{
		Results: results,
		Totals:  pkgsync.Summarize(results),
	}
	if resp.Results == nil {
		resp.Results = []*pkgsync.SyncResult{}
	}
	if err == nil {
		common.WriteJSONResponse(w, resp, http.StatusOK)
		return
	}

	resp.Error = err.Error()
	common.WriteJSONResponse(w, resp, failureStatus(err))
}

// failureStatus maps the class of a failed pass to the answer of the trigger
func failureStatus(err error) int {
	se, ok := syncerr.As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch se.RetryClass() {
	case syncerr.ReauthRequired:
		return http.StatusUnauthorized
	case syncerr.Retryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
