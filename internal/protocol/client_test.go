package protocol

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ledgerkit/devicesync/internal/auth"
	"github.com/ledgerkit/devicesync/internal/httpclient"
	"github.com/ledgerkit/devicesync/internal/ledger"
	"github.com/ledgerkit/devicesync/internal/syncerr"
)

const (
	testStream     = "orders"
	testSnapshotID = "6f1c2d3e-4b5a-4c6d-8e7f-901a2b3c4d5e"
)

func staticTokens() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})
}

// newTestServer serves handler and counts the requests it received
func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func segmentBody(t *testing.T, seg *Segment, hasMore bool) []byte {
	t.Helper()
	body, err := json.Marshal(SegmentPage{Segment: seg, HasMore: hasMore, CursorToken: "tok-1"})
	require.NoError(t, err)
	return body
}

func requireSyncErr(t *testing.T, err error) *syncerr.Error {
	t.Helper()
	require.Error(t, err)
	se, ok := syncerr.As(err)
	require.True(t, ok, "expected a classified error, got %T: %v", err, err)
	return se
}

func TestFetchSegment_Success(t *testing.T) {
	t.Parallel()

	data := []byte(`[{"eventId":"e0","streamId":"orders","index":0,"payload":{"n":1},"timestamp":"2026-03-01T00:00:00Z"}]`)
	seg := &Segment{
		StreamID:        testStream,
		SegmentIndex:    0,
		SizeBytes:       int64(len(data)),
		Checksum:        Checksum(data),
		FirstEventIndex: 0,
		LastEventIndex:  0,
		Data:            data,
	}

	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/sync/streams/orders/segments", r.URL.Path)
		assert.Equal(t, "-1", r.URL.Query().Get("after"))
		assert.Empty(t, r.URL.Query().Get("cursorToken"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write(segmentBody(t, seg, true))
	})

	client := NewClient(srv.URL+"/", staticTokens())
	page, err := client.FetchSegment(context.Background(), testStream, ledger.NewCursor(testStream))
	require.NoError(t, err)
	require.NotNil(t, page.Segment)
	assert.True(t, page.HasMore)
	assert.Equal(t, "tok-1", page.CursorToken)
	assert.Equal(t, data, page.Segment.Data)
	assert.NoError(t, VerifyChecksum(page.Segment.Data, page.Segment.Checksum))

	events, err := page.Segment.DecodeEvents()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "e0", events[0].EventID)
	assert.Equal(t, int64(1), page.Segment.EventCount())
}

func TestFetchSegment_SendsCursorPosition(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "4", r.URL.Query().Get("after"))
		assert.Equal(t, "stale-abc", r.URL.Query().Get("cursorToken"))
		w.WriteHeader(http.StatusNoContent)
	})

	cursor := ledger.Cursor{StreamID: testStream, SegmentIndex: 4, EventIndex: 40, StalenessToken: "stale-abc"}
	page, err := NewClient(srv.URL, staticTokens()).FetchSegment(context.Background(), testStream, cursor)
	require.NoError(t, err)
	assert.Nil(t, page.Segment)
	assert.False(t, page.HasMore)
}

func TestFetchSegment_NullSegment(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"segment":null,"hasMore":false}`))
	})

	page, err := NewClient(srv.URL, staticTokens()).FetchSegment(context.Background(), testStream, ledger.NewCursor(testStream))
	require.NoError(t, err)
	assert.Nil(t, page.Segment)
}

func TestFetchSegment_ErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		body          string
		expectedKind  syncerr.Kind
		expectedClass syncerr.RetryClass
		stale         bool
		integrity     bool
	}{
		{
			name:          "stale cursor",
			status:        http.StatusConflict,
			body:          `{"code":"SYNC_CURSOR_TOO_OLD","message":"Cursor too old"}`,
			expectedKind:  syncerr.KindAPI,
			expectedClass: syncerr.Retryable,
			stale:         true,
		},
		{
			name:          "missing segment object",
			status:        http.StatusNotFound,
			body:          `{"code":"SYNC_SEGMENT_OBJECT_MISSING","message":"gone"}`,
			expectedKind:  syncerr.KindAPI,
			expectedClass: syncerr.Permanent,
			integrity:     true,
		},
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			body:          `{"message":"slow down"}`,
			expectedKind:  syncerr.KindAPI,
			expectedClass: syncerr.Retryable,
		},
		{
			name:          "unauthorized",
			status:        http.StatusUnauthorized,
			body:          `{"message":"token expired"}`,
			expectedKind:  syncerr.KindAPI,
			expectedClass: syncerr.ReauthRequired,
		},
		{
			name:          "server error with text body",
			status:        http.StatusServiceUnavailable,
			body:          "upstream unavailable",
			expectedKind:  syncerr.KindAPI,
			expectedClass: syncerr.Retryable,
		},
		{
			name:          "malformed success body",
			status:        http.StatusOK,
			body:          `{"segment":`,
			expectedKind:  syncerr.KindDecode,
			expectedClass: syncerr.Permanent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := NewClient(srv.URL, staticTokens()).FetchSegment(context.Background(), testStream, ledger.NewCursor(testStream))
			se := requireSyncErr(t, err)
			assert.Equal(t, tt.expectedKind, se.Kind())
			assert.Equal(t, tt.expectedClass, se.RetryClass())
			assert.Equal(t, tt.stale, se.IsStaleCursor())
			assert.Equal(t, tt.integrity, se.IsIntegrityError())
		})
	}
}

func TestClient_NoCredentialMakesNoRequest(t *testing.T) {
	t.Parallel()

	srv, hits := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	emptyTokens := oauth2.StaticTokenSource(&oauth2.Token{})
	for name, client := range map[string]Client{
		"nil token source":   NewClient(srv.URL, nil),
		"empty access token": NewClient(srv.URL, emptyTokens),
	} {
		ctx := context.Background()

		_, err := client.FetchSegment(ctx, testStream, ledger.NewCursor(testStream))
		se := requireSyncErr(t, err)
		assert.Equal(t, syncerr.KindAuth, se.Kind(), name)
		assert.Equal(t, syncerr.ReauthRequired, se.RetryClass(), name)
		assert.Contains(t, se.Error(), auth.MissingAccessTokenMessage, name)

		_, err = client.FetchSnapshot(ctx, testStream)
		assert.Equal(t, syncerr.KindAuth, requireSyncErr(t, err).Kind(), name)

		_, err = client.PushEvents(ctx, testStream, []ledger.Event{{EventID: "e1"}})
		assert.Equal(t, syncerr.KindAuth, requireSyncErr(t, err).Kind(), name)
	}

	assert.Zero(t, hits.Load())
}

func TestClient_TokenSourceErrorsPropagate(t *testing.T) {
	t.Parallel()

	failing := tokenSourceFunc(func() (*oauth2.Token, error) {
		return nil, syncerr.Auth(auth.SessionExpiredMessage)
	})

	_, err := NewClient("http://127.0.0.1:1", failing).FetchSnapshot(context.Background(), testStream)
	se := requireSyncErr(t, err)
	assert.Equal(t, syncerr.KindAuth, se.Kind())
	assert.Contains(t, se.Error(), "Session expired")
}

type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }

func TestClient_TransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	_, err := NewClient(baseURL, staticTokens()).FetchSegment(context.Background(), testStream, ledger.NewCursor(testStream))
	se := requireSyncErr(t, err)
	assert.Equal(t, syncerr.KindTransport, se.Kind())
	assert.Equal(t, syncerr.Retryable, se.RetryClass())
}

func TestClient_Timeout(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	client := NewClient(srv.URL, staticTokens(), WithHTTPClient(httpclient.NewDefaultClient(50*time.Millisecond)))
	_, err := client.FetchSegment(context.Background(), testStream, ledger.NewCursor(testStream))
	se := requireSyncErr(t, err)
	assert.Equal(t, syncerr.KindTransport, se.Kind())
	assert.Equal(t, syncerr.Retryable, se.RetryClass())
}

func TestClient_RequiresStreamID(t *testing.T) {
	t.Parallel()

	client := NewClient("http://127.0.0.1:1", staticTokens())
	_, err := client.FetchSegment(context.Background(), "", ledger.NewCursor(""))
	assert.Equal(t, syncerr.KindInvalidRequest, requireSyncErr(t, err).Kind())
	_, err = client.FetchSnapshot(context.Background(), "")
	assert.Equal(t, syncerr.KindInvalidRequest, requireSyncErr(t, err).Kind())
	_, err = client.PushEvents(context.Background(), "", []ledger.Event{{EventID: "e"}})
	assert.Equal(t, syncerr.KindInvalidRequest, requireSyncErr(t, err).Kind())
}

func TestFetchSnapshot_Success(t *testing.T) {
	t.Parallel()

	state := []byte("materialized-state")
	srv, hits := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sync/streams/orders/snapshots/latest":
			_ = json.NewEncoder(w).Encode(SnapshotMetadata{
				SnapshotID: testSnapshotID,
				StreamID:   testStream,
				AsOf:       AsOf{SegmentIndex: 7, EventIndex: 70},
				Checksum:   "sha256:" + Checksum(state),
				SizeBytes:  int64(len(state)),
			})
		case "/api/v1/sync/streams/orders/snapshots/" + testSnapshotID:
			assert.Equal(t, "application/octet-stream", r.Header.Get("Accept"))
			_, _ = w.Write(state)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	snap, err := NewClient(srv.URL, staticTokens()).FetchSnapshot(context.Background(), testStream)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, testSnapshotID, snap.SnapshotID)
	assert.Equal(t, AsOf{SegmentIndex: 7, EventIndex: 70}, snap.AsOf)
	assert.Equal(t, state, snap.Data)
	assert.NoError(t, VerifyChecksum(snap.Data, snap.Checksum))
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchSnapshot_NoSnapshotYet(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	snap, err := NewClient(srv.URL, staticTokens()).FetchSnapshot(context.Background(), testStream)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestFetchSnapshot_InvalidSnapshotID(t *testing.T) {
	t.Parallel()

	srv, hits := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"snapshotId":"not-a-uuid","streamId":"orders","checksum":"00"}`))
	})

	_, err := NewClient(srv.URL, staticTokens()).FetchSnapshot(context.Background(), testStream)
	se := requireSyncErr(t, err)
	assert.Equal(t, syncerr.KindInvalidRequest, se.Kind())
	assert.Equal(t, syncerr.Permanent, se.RetryClass())
	assert.Contains(t, se.Error(), "not-a-uuid")
	assert.Equal(t, int32(1), hits.Load(), "bytes are never requested for an invalid id")
}

func TestFetchSnapshot_ServerRejectsSnapshotID(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/sync/streams/orders/snapshots/latest" {
			_ = json.NewEncoder(w).Encode(SnapshotMetadata{SnapshotID: testSnapshotID, StreamID: testStream})
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`[{"path":["snapshotId"],"message":"Invalid UUID"}]`))
	})

	_, err := NewClient(srv.URL, staticTokens()).FetchSnapshot(context.Background(), testStream)
	se := requireSyncErr(t, err)
	assert.True(t, se.IsSnapshotIDValidationError())
	assert.Equal(t, syncerr.Permanent, se.RetryClass())
}

func TestFetchSnapshot_MissingObject(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/sync/streams/orders/snapshots/latest" {
			_ = json.NewEncoder(w).Encode(SnapshotMetadata{SnapshotID: testSnapshotID, StreamID: testStream})
			return
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"SYNC_SNAPSHOT_OBJECT_MISSING","message":"object missing"}`))
	})

	_, err := NewClient(srv.URL, staticTokens()).FetchSnapshot(context.Background(), testStream)
	se := requireSyncErr(t, err)
	assert.True(t, se.IsIntegrityError())
	assert.Equal(t, syncerr.Retryable, se.RetryClass())
}

func TestPushEvents(t *testing.T) {
	t.Parallel()

	events := []ledger.Event{
		{EventID: "e1", StreamID: testStream, Index: ledger.NoIndex, Payload: json.RawMessage(`{"a":1}`)},
		{EventID: "e2", StreamID: testStream, Index: ledger.NoIndex, Payload: json.RawMessage(`{"a":2}`)},
	}

	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/sync/streams/orders/events", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var req pushRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		assert.Len(t, req.Events, 2)

		_, _ = w.Write([]byte(`{"accepted":2,"cursor":{"segmentIndex":9,"eventIndex":99,"stalenessToken":"t9"}}`))
	})

	ack, err := NewClient(srv.URL, staticTokens()).PushEvents(context.Background(), testStream, events)
	require.NoError(t, err)
	assert.Equal(t, 2, ack.Accepted)
	assert.Equal(t, ServerCursor{SegmentIndex: 9, EventIndex: 99, StalenessToken: "t9"}, ack.Cursor)
}

func TestPushEvents_EmptyBatch(t *testing.T) {
	t.Parallel()

	srv, hits := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := NewClient(srv.URL, staticTokens()).PushEvents(context.Background(), testStream, nil)
	se := requireSyncErr(t, err)
	assert.Equal(t, syncerr.KindInvalidRequest, se.Kind())
	assert.Equal(t, syncerr.Permanent, se.RetryClass())
	assert.Zero(t, hits.Load())
}

func TestClient_MinimumVersionHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		minimum       string
		clientVersion string
		wantWarned    bool
	}{
		{name: "outdated client", minimum: "2.0.0", clientVersion: "1.5.0", wantWarned: true},
		{name: "current client", minimum: "1.0.0", clientVersion: "1.5.0", wantWarned: false},
		{name: "dev build", minimum: "2.0.0", clientVersion: "dev", wantWarned: false},
		{name: "no header", minimum: "", clientVersion: "1.5.0", wantWarned: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				if tt.minimum != "" {
					w.Header().Set(MinimumVersionHeader, tt.minimum)
				}
				w.WriteHeader(http.StatusNoContent)
			})
			client := NewClient(srv.URL, staticTokens(), WithClientVersion(tt.clientVersion))

			page, err := client.FetchSegment(context.Background(), testStream, ledger.NewCursor(testStream))
			require.NoError(t, err)
			assert.Nil(t, page.Segment)
			assert.Equal(t, tt.wantWarned, client.(*apiClient).upgradeWarned.Load())
		})
	}
}
