package common

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		wantValue  string
		wantErrMsg string
	}{
		{name: "plain", path: "/streams/orders", wantValue: "orders"},
		{name: "dots and dashes", path: "/streams/orders.v2-eu_1", wantValue: "orders.v2-eu_1"},
		{name: "encoded slash", path: "/streams/team%2Fops", wantValue: "team/ops"},
		{name: "encoded colon", path: "/streams/tenant%3Aorders", wantValue: "tenant:orders"},
		{name: "encoded space only", path: "/streams/%20", wantErrMsg: "streamID cannot be empty"},
		{name: "encoded tab only", path: "/streams/%09", wantErrMsg: "streamID cannot be empty"},
		{name: "space inside", path: "/streams/my%20orders", wantErrMsg: "cannot contain whitespace"},
		{name: "newline inside", path: "/streams/orders%0Aevil", wantErrMsg: "cannot contain whitespace"},
		{name: "control character", path: "/streams/orders%00", wantErrMsg: "control characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var (
				got    string
				gotErr error
			)
			r := chi.NewRouter()
			r.Get("/streams/{streamID}", func(w http.ResponseWriter, req *http.Request) {
				got, gotErr = PathParam(req, "streamID")
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code)

			if tt.wantErrMsg != "" {
				require.Error(t, gotErr)
				assert.Contains(t, gotErr.Error(), tt.wantErrMsg)
				return
			}
			require.NoError(t, gotErr)
			assert.Equal(t, tt.wantValue, got)
		})
	}
}

func TestWriteErrorResponse(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteErrorResponse(rec, "stream not configured", http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stream not configured", body.Error)
}

func TestWriteJSONResponse(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONResponse(rec, map[string]int{"streams": 2}, http.StatusAccepted)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"streams":2}`, rec.Body.String())
}
