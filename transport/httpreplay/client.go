// Package httpreplay replays queued offline writes against the portal API over HTTP.
package httpreplay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/offlinecache"
	cacheErrors "github.com/campuskit/offlinecache/errors"
)

// DefaultRequestTimeout bounds a single replayed request.
const DefaultRequestTimeout = 30 * time.Second

// defaultMaxResponseBytes caps how much of a response body is read. Replay
// only needs the status plus a short error snippet.
const defaultMaxResponseBytes = 1 << 20 // 1MB

// Client issues queued requests exactly as they were captured: same method,
// same URL, same body. Each replay carries the entry's X-Request-ID, minted
// once at enqueue time, so a drain halted between the server accepting a
// write and the local queue removing it re-sends the entry under the same key
// and the server can deduplicate it.
type Client struct {
	baseURL   string
	http      *http.Client
	timeout   time.Duration
	authToken string
	maxBody   int64
}

// Compile-time check to ensure Client satisfies the Replayer interface
var _ offlinecache.Replayer = (*Client)(nil)

// Option configures a Client using the functional options pattern
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) {
		c.http = cl
	}
}

// WithAuthToken sets a bearer token attached to every replayed request
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = token
	}
}

// WithRequestTimeout overrides the per-request timeout. The timeout is
// applied after all options run, so it takes effect regardless of its order
// relative to WithHTTPClient.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxResponseBytes caps how much of a response body is read
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) {
		c.maxBody = n
	}
}

// New creates a replay client. baseURL is prepended to relative queued URLs;
// absolute queued URLs are used as-is.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		maxBody: defaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	switch {
	case c.http == nil:
		if c.timeout == 0 {
			c.timeout = DefaultRequestTimeout
		}
		c.http = &http.Client{Timeout: c.timeout}
	case c.timeout != 0:
		// Copy a caller-supplied client rather than mutating it.
		cl := *c.http
		cl.Timeout = c.timeout
		c.http = &cl
	}
	return c
}

// Replay issues one queued request. Network failures and 5xx responses come
// back as retryable REPLAY_FAILURE errors; 4xx rejections are permanent.
// Queued writes carry no conflict resolution: whatever the server answers is
// surfaced to the drain, never reinterpreted.
func (c *Client) Replay(ctx context.Context, req offlinecache.PendingRequest) error {
	target, err := c.resolveURL(req.URL)
	if err != nil {
		return cacheErrors.NewValidationError(cacheErrors.OpReplay, err)
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return cacheErrors.NewValidationError(cacheErrors.OpReplay, err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	// Entries always carry a key minted at enqueue time. Minting here is a
	// fallback for hand-built requests and is NOT stable across attempts.
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	httpReq.Header.Set("X-Request-ID", requestID)
	httpReq.Header.Set("X-Queued-At", req.Timestamp.UTC().Format(time.RFC3339))
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return cacheErrors.NewReplayError(cacheErrors.OpReplay, err, true)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	retryable := resp.StatusCode >= 500
	replayErr := cacheErrors.NewReplayError(cacheErrors.OpReplay,
		fmt.Errorf("server returned %d: %s", resp.StatusCode, truncate(string(snippet), 200)),
		retryable)
	cacheErrors.WithMetadata(replayErr, "status", resp.StatusCode)
	cacheErrors.WithMetadata(replayErr, "url", target)
	return replayErr
}

// resolveURL joins relative queued URLs onto the base URL.
func (c *Client) resolveURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid queued url %q: %w", raw, err)
	}
	if u.IsAbs() {
		return raw, nil
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("relative url %q with no base url configured", raw)
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return c.baseURL + raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
