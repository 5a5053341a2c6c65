package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ledgerkit/devicesync/internal/api"
	v1 "github.com/ledgerkit/devicesync/internal/api/v1"
	"github.com/ledgerkit/devicesync/internal/ledger"
	"github.com/ledgerkit/devicesync/internal/notify"
	"github.com/ledgerkit/devicesync/internal/store"
	storemocks "github.com/ledgerkit/devicesync/internal/store/mocks"
	pkgsync "github.com/ledgerkit/devicesync/internal/sync"
	syncmocks "github.com/ledgerkit/devicesync/internal/sync/mocks"
	"github.com/ledgerkit/devicesync/internal/syncerr"
)

var testStreams = []string{"orders", "team/ops"}

type fixture struct {
	orchestrator *syncmocks.MockOrchestrator
	store        *storemocks.MockStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := &fixture{
		orchestrator: syncmocks.NewMockOrchestrator(ctrl),
		store:        storemocks.NewMockStore(ctrl),
	}
	f.orchestrator.EXPECT().Streams().Return(testStreams).AnyTimes()
	return f
}

func (f *fixture) server(opts ...api.ServerOption) http.Handler {
	return api.NewServer(f.orchestrator, f.store, opts...)
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := do(t, f.server(), http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadinessEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		listErr        error
		expectedStatus int
	}{
		{name: "store reachable", expectedStatus: http.StatusOK},
		{name: "store unavailable", listErr: errors.New("database is closed"), expectedStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.store.EXPECT().ListCursors(gomock.Any()).Return(nil, tt.listErr)

			rec := do(t, f.server(), http.MethodGet, "/readiness")

			assert.Equal(t, tt.expectedStatus, rec.Code)
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	orders := ledger.Cursor{StreamID: "orders", SegmentIndex: 4, EventIndex: 41}
	stray := ledger.Cursor{StreamID: "removed", SegmentIndex: 1, EventIndex: 3}
	f.store.EXPECT().ListCursors(gomock.Any()).Return([]ledger.Cursor{orders, stray}, nil)
	f.orchestrator.EXPECT().LastResults().Return([]*pkgsync.SyncResult{
		{StreamID: "orders", Mode: pkgsync.ModeIncremental, State: pkgsync.StateCommitted, SegmentsApplied: 2},
	})

	rec := do(t, f.server(), http.MethodGet, "/api/v1/sync/status")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[v1.StatusResponse](t, rec)
	require.Len(t, resp.Streams, 2)

	assert.Equal(t, "orders", resp.Streams[0].StreamID)
	require.NotNil(t, resp.Streams[0].Cursor)
	assert.Equal(t, int64(41), resp.Streams[0].Cursor.EventIndex)
	require.NotNil(t, resp.Streams[0].LastResult)
	assert.Equal(t, 2, resp.Streams[0].LastResult.SegmentsApplied)

	assert.Equal(t, "team/ops", resp.Streams[1].StreamID)
	assert.Nil(t, resp.Streams[1].Cursor)
	assert.Nil(t, resp.Streams[1].LastResult)
}

func TestStatusEndpoint_StoreError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.store.EXPECT().ListCursors(gomock.Any()).Return(nil, errors.New("disk full"))

	rec := do(t, f.server(), http.MethodGet, "/api/v1/sync/status")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
}

func TestStreamEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("configured stream with cursor", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.store.EXPECT().LoadCursor(gomock.Any(), "orders").
			Return(&ledger.Cursor{StreamID: "orders", SegmentIndex: 0, EventIndex: 9}, nil)
		f.orchestrator.EXPECT().LastResults().Return(nil)

		rec := do(t, f.server(), http.MethodGet, "/api/v1/sync/streams/orders")
		require.Equal(t, http.StatusOK, rec.Code)

		status := decode[v1.StreamStatus](t, rec)
		require.NotNil(t, status.Cursor)
		assert.Equal(t, int64(9), status.Cursor.EventIndex)
	})

	t.Run("escaped stream id never synced", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.store.EXPECT().LoadCursor(gomock.Any(), "team/ops").Return(nil, store.ErrCursorNotFound)
		f.orchestrator.EXPECT().LastResults().Return(nil)

		rec := do(t, f.server(), http.MethodGet, "/api/v1/sync/streams/team%2Fops")
		require.Equal(t, http.StatusOK, rec.Code)

		status := decode[v1.StreamStatus](t, rec)
		assert.Equal(t, "team/ops", status.StreamID)
		assert.Nil(t, status.Cursor)
	})

	t.Run("unconfigured stream", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec := do(t, f.server(), http.MethodGet, "/api/v1/sync/streams/invoices")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "invoices")
	})

	t.Run("malformed stream id", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec := do(t, f.server(), http.MethodGet, "/api/v1/sync/streams/my%20orders")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRunAllEndpoint(t *testing.T) {
	t.Parallel()

	committed := &pkgsync.SyncResult{
		StreamID: "orders", State: pkgsync.StateCommitted, SegmentsApplied: 3, EventsApplied: 30,
	}

	tests := []struct {
		name           string
		results        []*pkgsync.SyncResult
		err            error
		expectedStatus int
	}{
		{
			name:           "all committed",
			results:        []*pkgsync.SyncResult{committed},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "sign-in required",
			results:        []*pkgsync.SyncResult{{StreamID: "orders", State: pkgsync.StateFailed}},
			err:            syncerr.Auth("No access token configured. Please sign in first."),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "network failure",
			results:        []*pkgsync.SyncResult{{StreamID: "orders", State: pkgsync.StateFailed}},
			err:            syncerr.Transport(errors.New("connection refused")),
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "rejected by the service",
			results:        []*pkgsync.SyncResult{{StreamID: "orders", State: pkgsync.StateFailed}},
			err:            syncerr.API(http.StatusUnprocessableEntity, "bad events"),
			expectedStatus: http.StatusBadGateway,
		},
		{
			name:           "local failure",
			results:        []*pkgsync.SyncResult{{StreamID: "orders", State: pkgsync.StateFailed}},
			err:            errors.New("failed to commit segment: disk full"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			f.orchestrator.EXPECT().RunAll(gomock.Any()).Return(tt.results, tt.err)

			rec := do(t, f.server(), http.MethodPost, "/api/v1/sync")
			require.Equal(t, tt.expectedStatus, rec.Code)

			resp := decode[v1.RunResponse](t, rec)
			assert.Len(t, resp.Results, len(tt.results))
			assert.Equal(t, len(tt.results), resp.Totals.Streams)
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), resp.Error)
				assert.Equal(t, 1, resp.Totals.Failed)
			} else {
				assert.Empty(t, resp.Error)
				assert.Equal(t, 30, resp.Totals.EventsApplied)
			}
		})
	}
}

func TestRunAllEndpoint_IgnoresClientDisconnect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.orchestrator.EXPECT().RunAll(gomock.Any()).DoAndReturn(
		func(ctx context.Context) ([]*pkgsync.SyncResult, error) {
			assert.NoError(t, ctx.Err())
			return nil, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.server().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results":[],"totals":{"streams":0,"failed":0,"segmentsApplied":0,"eventsApplied":0,"eventsPushed":0}}`,
		rec.Body.String())
}

func TestRunStreamEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("runs the requested stream", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.orchestrator.EXPECT().RunPass(gomock.Any(), "team/ops").Return(&pkgsync.SyncResult{
			StreamID: "team/ops", Mode: pkgsync.ModeBootstrap, State: pkgsync.StateCommitted, SnapshotApplied: true,
		}, nil)

		rec := do(t, f.server(), http.MethodPost, "/api/v1/sync/streams/team%2Fops")
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[v1.RunResponse](t, rec)
		require.Len(t, resp.Results, 1)
		assert.True(t, resp.Results[0].SnapshotApplied)
	})

	t.Run("unconfigured stream is not run", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec := do(t, f.server(), http.MethodPost, "/api/v1/sync/streams/invoices")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestEventsEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	events := notify.NewBroadcaster()

	srv := httptest.NewServer(f.server(api.WithEvents(events), api.WithMiddlewares(api.LoggingMiddleware)))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sync/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return events.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	events.Emit(context.Background(), notify.Notification{
		Name:     notify.SyncComplete,
		StreamID: "orders",
		Summary:  &notify.Summary{Mode: "incremental", SegmentsApplied: 1},
	})

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: sync-complete\n", eventLine)

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataLine, "data: "), dataLine)

	var n notify.Notification
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &n))
	assert.Equal(t, "orders", n.StreamID)
	require.NotNil(t, n.Summary)
	assert.Equal(t, 1, n.Summary.SegmentsApplied)

	cancel()
	require.Eventually(t, func() bool { return events.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestEventsEndpoint_Disabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := do(t, f.server(), http.MethodGet, "/api/v1/sync/events")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("served when configured", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("devicesync_sync_passes_total 1\n"))
		})

		rec := do(t, f.server(api.WithMetricsHandler(metrics)), http.MethodGet, "/metrics")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "devicesync_sync_passes_total")
	})

	t.Run("absent otherwise", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec := do(t, f.server(), http.MethodGet, "/metrics")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestLoggingMiddleware(t *testing.T) {
	t.Parallel()

	handler := api.LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := do(t, handler, http.MethodGet, "/anything")

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
