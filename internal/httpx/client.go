// Package httpx is the retrying JSON client behind every HTTP source
// adapter. Upstream failures map onto the stable error codes; retries use
// capped exponential backoff with jitter and honor Retry-After on rate
// limits.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	pilerr "github.com/defipilot/defipilot/internal/errors"
)

const (
	defaultBackoffBase  = 120 * time.Millisecond
	defaultBackoffLimit = 2 * time.Second
	maxJitter           = 75 * time.Millisecond
)

type Client struct {
	http        *http.Client
	retries     int
	backoffBase time.Duration
	backoffMax  time.Duration
	userAgent   string
}

type Option func(*Client)

// WithBackoff overrides the retry wait curve: base doubles per attempt up
// to limit. Mostly useful for keeping tests fast.
func WithBackoff(base, limit time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoffBase = base
		}
		if limit > 0 {
			c.backoffMax = limit
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// New builds a client with the request timeout and retry count the config
// layer exposes. retries counts re-attempts after the first try.
func New(timeout time.Duration, retries int, opts ...Option) *Client {
	if retries < 0 {
		retries = 0
	}
	c := &Client{
		http:        &http.Client{Timeout: timeout},
		retries:     retries,
		backoffBase: defaultBackoffBase,
		backoffMax:  defaultBackoffLimit,
		userAgent:   "defipilot/1.0",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return pilerr.Wrap(pilerr.CodeInternal, "build request", err)
	}
	_, err = c.DoJSON(ctx, req, out)
	return err
}

// DoJSON executes req, retrying rate-limit, server-error, and transport
// failures up to the configured retry count. Auth and client errors are
// never retried.
func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var (
		lastHeader http.Header
		retryAfter time.Duration
	)
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt, retryAfter); err != nil {
				return lastHeader, err
			}
		}

		header, retryable, err := c.attempt(ctx, req, out)
		if err == nil {
			return header, nil
		}
		if !retryable || attempt >= c.retries {
			return header, err
		}
		lastHeader = header
		retryAfter = retryAfterFrom(header)
	}
}

// attempt runs one round trip. The bool reports whether the failure class
// is worth retrying.
func (c *Client) attempt(ctx context.Context, req *http.Request, out any) (http.Header, bool, error) {
	clone := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, false, pilerr.Wrap(pilerr.CodeInternal, "clone request body", err)
		}
		clone.Body = body
	}

	resp, err := c.http.Do(clone)
	if err != nil {
		return nil, true, mapNetError(err)
	}
	buf, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp.Header, true, pilerr.Wrap(pilerr.CodeUnavailable, "read upstream response", readErr)
	}

	if err := statusError(resp.StatusCode); err != nil {
		return resp.Header, retryableStatus(resp.StatusCode), err
	}

	if out == nil {
		return resp.Header, false, nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return resp.Header, false, pilerr.New(pilerr.CodeUnavailable, "upstream returned empty response")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return resp.Header, false, pilerr.Wrap(pilerr.CodeUnavailable, "decode upstream JSON", err)
	}
	return resp.Header, false, nil
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return pilerr.New(pilerr.CodeRateLimited, "upstream rate limited request")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pilerr.New(pilerr.CodeAuth, "upstream authentication failed")
	case status >= http.StatusInternalServerError:
		return pilerr.New(pilerr.CodeUnavailable, fmt.Sprintf("upstream unavailable (status %d)", status))
	default:
		return pilerr.New(pilerr.CodeUnsupported, fmt.Sprintf("upstream returned unexpected status %d", status))
	}
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// wait sleeps out the backoff for the given attempt, preferring an
// upstream Retry-After hint when one fits under the backoff cap.
func (c *Client) wait(ctx context.Context, attempt int, retryAfter time.Duration) error {
	d := c.backoffBase << uint(attempt-1)
	if retryAfter > d {
		d = retryAfter
	}
	if d > c.backoffMax {
		d = c.backoffMax
	}
	d += time.Duration(rand.Int63n(int64(maxJitter)))

	select {
	case <-ctx.Done():
		return pilerr.Wrap(pilerr.CodeUnavailable, "request cancelled", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

func retryAfterFrom(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	seconds, err := strconv.Atoi(header.Get("Retry-After"))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func mapNetError(err error) error {
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return pilerr.Wrap(pilerr.CodeUnavailable, "upstream timeout", err)
	}
	return pilerr.Wrap(pilerr.CodeUnavailable, "upstream request failed", err)
}
