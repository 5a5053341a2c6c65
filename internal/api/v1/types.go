package v1

import (
	"github.com/ledgerkit/devicesync/internal/ledger"
	pkgsync "github.com/ledgerkit/devicesync/internal/sync"
)

// StreamStatus is the local sync position of one configured stream
type StreamStatus struct {
	StreamID   string              `json:"streamId"`
	Cursor     *ledger.Cursor      `json:"cursor,omitempty"`
	LastResult *pkgsync.SyncResult `json:"lastResult,omitempty"`
}

// StatusResponse is the body of GET /api/v1/sync/status
type StatusResponse struct {
	Streams []StreamStatus `json:"streams"`
}

// RunResponse is the body of the sync trigger endpoints
type RunResponse struct {
	Results []*pkgsync.SyncResult `json:"results"`
	Totals  pkgsync.Totals        `json:"totals"`
	Error   string                `json:"error,omitempty"`
}
