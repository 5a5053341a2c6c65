package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"

	v1 "github.com/ledgerkit/devicesync/internal/api/v1"
	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/httpclient"
	pkgsync "github.com/ledgerkit/devicesync/internal/sync"
)

// daemonError is a non-success answer of the running daemon
type daemonError struct {
	status  int
	message string
}

func (e *daemonError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("sync daemon answered %d %s", e.status, http.StatusText(e.status))
	}
	return fmt.Sprintf("sync daemon answered %d: %s", e.status, e.message)
}

// retryable reports whether the daemon may succeed on a later attempt.
// The daemon answers 503 for retryable passes and 500 for unclassified ones.
func (e *daemonError) retryable() bool {
	return e.status == http.StatusServiceUnavailable || e.status == http.StatusInternalServerError
}

// daemonClient talks to the local API of a running daemon. The CLI uses it
// when the daemon holds the store.
type daemonClient struct {
	baseURL string
	client  httpclient.Client
}

func newDaemonClient(cfg *config.Config, client httpclient.Client) *daemonClient {
	return &daemonClient{
		baseURL: "http://" + loopbackAddress(cfg.GetServerAddress()),
		client:  client,
	}
}

// loopbackAddress turns a listen address into one the CLI can dial
func loopbackAddress(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// Run triggers a pass over one stream, or over every stream when streamID is empty
func (d *daemonClient) Run(ctx context.Context, streamID string) ([]*pkgsync.SyncResult, error) {
	path := "/api/v1/sync"
	if streamID != "" {
		path += "/streams/" + url.PathEscape(streamID)
	}

	var body v1.RunResponse
	status, err := d.do(ctx, http.MethodPost, path, &body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return body.Results, &daemonError{status: status, message: body.Error}
	}
	return body.Results, nil
}

// Status returns the sync position of every configured stream
func (d *daemonClient) Status(ctx context.Context) (*v1.StatusResponse, error) {
	var body struct {
		v1.StatusResponse
		Error string `json:"error,omitempty"`
	}
	status, err := d.do(ctx, http.MethodGet, "/api/v1/sync/status", &body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &daemonError{status: status, message: body.Error}
	}
	return &body.StatusResponse, nil
}

func (d *daemonClient) do(ctx context.Context, method, path string, out any) (int, error) {
	resp, err := d.client.Do(ctx, &httpclient.Request{Method: method, URL: d.baseURL + path})
	if err != nil {
		return 0, fmt.Errorf("failed to reach the sync daemon at %s: %w", d.baseURL, err)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		if !resp.IsSuccess() {
			return 0, &daemonError{status: resp.StatusCode}
		}
		return 0, fmt.Errorf("failed to decode sync daemon response: %w", err)
	}
	return resp.StatusCode, nil
}
