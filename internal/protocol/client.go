// Package protocol implements the device side of the segment and snapshot
// sync protocol.
//
// Every failure returned by a Client is a *syncerr.Error. The client labels
// failures and never retries; the orchestrator decides what to do with them.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/ledgerkit/devicesync/internal/auth"
	"github.com/ledgerkit/devicesync/internal/httpclient"
	"github.com/ledgerkit/devicesync/internal/ledger"
	"github.com/ledgerkit/devicesync/internal/otel"
	"github.com/ledgerkit/devicesync/internal/syncerr"
	"github.com/ledgerkit/devicesync/internal/versions"
)

const (
	streamsPath = "/api/v1/sync/streams/"

	// MinimumVersionHeader carries the oldest client version the server still supports
	MinimumVersionHeader = "X-Devicesync-Minimum-Version"
)

// Client talks to the remote sync API on behalf of one device
//
//go:generate mockgen -destination=mocks/mock_client.go -package=mocks github.com/ledgerkit/devicesync/internal/protocol Client
type Client interface {
	// FetchSegment returns the segment following cursor.SegmentIndex.
	// A page with a nil Segment means the stream has nothing newer.
	FetchSegment(ctx context.Context, streamID string, cursor ledger.Cursor) (*SegmentPage, error)

	// FetchSnapshot returns the latest snapshot with its bytes.
	// It returns nil without error when the server holds no snapshot yet.
	FetchSnapshot(ctx context.Context, streamID string) (*Snapshot, error)

	// PushEvents uploads locally produced events
	PushEvents(ctx context.Context, streamID string, events []ledger.Event) (*PushAck, error)
}

type apiClient struct {
	baseURL string
	http    httpclient.Client
	tokens  oauth2.TokenSource
	tracer  trace.Tracer

	clientVersion string
	upgradeWarned atomic.Bool
}

// Option configures the client
type Option func(*apiClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c httpclient.Client) Option {
	return func(a *apiClient) {
		a.http = c
	}
}

// WithTracer enables request spans
func WithTracer(tracer trace.Tracer) Option {
	return func(a *apiClient) {
		a.tracer = tracer
	}
}

// WithClientVersion sets the version compared against MinimumVersionHeader
func WithClientVersion(version string) Option {
	return func(a *apiClient) {
		a.clientVersion = version
	}
}

// NewClient creates a Client for the API rooted at baseURL
func NewClient(baseURL string, tokens oauth2.TokenSource, opts ...Option) Client {
	c := &apiClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		tokens:        tokens,
		clientVersion: versions.Version,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.NewDefaultClient(httpclient.DefaultTimeout)
	}
	return c
}

// FetchSegment fetches the next segment after the cursor
func (c *apiClient) FetchSegment(ctx context.Context, streamID string, cursor ledger.Cursor) (*SegmentPage, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "protocol.FetchSegment",
		trace.WithAttributes(
			otel.AttrStreamID.String(streamID),
			otel.AttrSegmentIndex.Int64(cursor.NextSegmentIndex()),
		),
	)
	defer span.End()

	if streamID == "" {
		return nil, syncerr.InvalidRequest("stream id is required")
	}

	query := url.Values{}
	query.Set("after", strconv.FormatInt(cursor.SegmentIndex, 10))
	if cursor.StalenessToken != "" {
		query.Set("cursorToken", cursor.StalenessToken)
	}

	resp, err := c.do(ctx, http.MethodGet, streamPath(streamID, "segments"), query, nil, "")
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent || len(resp.Body) == 0 {
		return &SegmentPage{}, nil
	}

	var page SegmentPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		derr := syncerr.Decode(fmt.Errorf("failed to decode segment page: %w", err))
		otel.RecordError(span, derr)
		return nil, derr
	}
	if page.Segment != nil {
		span.SetAttributes(attribute.Int64("segment.size_bytes", page.Segment.SizeBytes))
	}
	return &page, nil
}

// FetchSnapshot fetches the latest snapshot metadata and then its bytes
func (c *apiClient) FetchSnapshot(ctx context.Context, streamID string) (*Snapshot, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "protocol.FetchSnapshot",
		trace.WithAttributes(otel.AttrStreamID.String(streamID)),
	)
	defer span.End()

	if streamID == "" {
		return nil, syncerr.InvalidRequest("stream id is required")
	}

	resp, err := c.do(ctx, http.MethodGet, streamPath(streamID, "snapshots", "latest"), nil, nil, "")
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent || len(resp.Body) == 0 {
		return nil, nil
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(resp.Body, &meta); err != nil {
		derr := syncerr.Decode(fmt.Errorf("failed to decode snapshot metadata: %w", err))
		otel.RecordError(span, derr)
		return nil, derr
	}

	if _, err := uuid.Parse(meta.SnapshotID); err != nil {
		ierr := syncerr.InvalidRequest(fmt.Sprintf("invalid snapshot id %q: %v", meta.SnapshotID, err))
		otel.RecordError(span, ierr)
		return nil, ierr
	}
	span.SetAttributes(otel.AttrSnapshotID.String(meta.SnapshotID))

	data, err := c.do(ctx, http.MethodGet,
		streamPath(streamID, "snapshots", meta.SnapshotID), nil, nil, "application/octet-stream")
	if err != nil {
		otel.RecordError(span, err)
		return nil, err
	}

	return &Snapshot{SnapshotMetadata: meta, Data: data.Body}, nil
}

// PushEvents uploads events produced on this device
func (c *apiClient) PushEvents(ctx context.Context, streamID string, events []ledger.Event) (*PushAck, error) {
	ctx, span := otel.StartSpan(ctx, c.tracer, "protocol.PushEvents",
		trace.WithAttributes(
			otel.AttrStreamID.String(streamID),
			otel.AttrEventCount.Int(len(events)),
		),
	)
	defer span.End()

	if streamID == "" {
		return nil, syncerr.InvalidRequest("stream id is required")
	}
	if len(events) == 0 {
		return nil, syncerr.InvalidRequest("no events to push")
	}

	body, err := json.Marshal(pushRequest{Events: events})
	if err != nil {
		return nil, syncerr.InvalidRequest(fmt.Sprintf("failed to encode events: %v", err))
	}

	resp, serr := c.do(ctx, http.MethodPost, streamPath(streamID, "events"), nil, body, "")
	if serr != nil {
		otel.RecordError(span, serr)
		return nil, serr
	}

	var ack PushAck
	if err := json.Unmarshal(resp.Body, &ack); err != nil {
		derr := syncerr.Decode(fmt.Errorf("failed to decode push acknowledgement: %w", err))
		otel.RecordError(span, derr)
		return nil, derr
	}
	return &ack, nil
}

// do authenticates and performs a request, mapping every failure to a
// classified error. Non-2xx answers become API errors.
func (c *apiClient) do(
	ctx context.Context, method, path string, query url.Values, body []byte, accept string,
) (*httpclient.Response, *syncerr.Error) {
	authorization, authErr := c.authorization()
	if authErr != nil {
		return nil, authErr
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	header := http.Header{}
	header.Set("Authorization", authorization)
	if accept != "" {
		header.Set("Accept", accept)
	}

	resp, err := c.http.Do(ctx, &httpclient.Request{
		Method: method,
		URL:    target,
		Body:   body,
		Header: header,
	})
	if err != nil {
		if errors.Is(err, httpclient.ErrResponseTooLarge) {
			return nil, syncerr.Decode(err)
		}
		return nil, syncerr.Transport(err)
	}
	c.checkMinimumVersion(resp.Header)

	if !resp.IsSuccess() {
		return nil, syncerr.FromResponse(resp.StatusCode, resp.Body)
	}
	return resp, nil
}

// checkMinimumVersion warns once when the server announces that this client is outdated
func (c *apiClient) checkMinimumVersion(header http.Header) {
	minimum := header.Get(MinimumVersionHeader)
	if !versions.RequiresUpgrade(minimum, c.clientVersion) {
		return
	}
	if c.upgradeWarned.CompareAndSwap(false, true) {
		slog.Warn("Sync service requires a newer client version",
			"minimum_version", minimum, "client_version", c.clientVersion)
	}
}

// authorization resolves the Authorization header value before any network call
func (c *apiClient) authorization() (string, *syncerr.Error) {
	if c.tokens == nil {
		return "", syncerr.Auth(auth.MissingAccessTokenMessage)
	}

	tok, err := c.tokens.Token()
	if err != nil {
		if se, ok := syncerr.As(err); ok {
			return "", se
		}
		return "", syncerr.Auth(err.Error())
	}
	if tok == nil || tok.AccessToken == "" {
		return "", syncerr.Auth(auth.MissingAccessTokenMessage)
	}
	return tok.Type() + " " + tok.AccessToken, nil
}

func streamPath(streamID string, parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, url.PathEscape(streamID))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return streamsPath + strings.Join(escaped, "/")
}
