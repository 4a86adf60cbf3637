// Package httpretry retries idempotent-enough POSTs such as the synchronous
// backup submission. Retries never outlive the request's context deadline:
// when the page is about to go away, giving up early beats sleeping through
// teardown.
package httpretry

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/formbridge/internal/pkg/logger"
)

// HTTPDoer executes requests. *http.Client and *RetryClient satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries transient failures with exponential backoff.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *logger.Logger
}

type Option func(*RetryClient)

// WithBackoff sets the first retry delay and the cap for later ones.
func WithBackoff(base, max time.Duration) Option {
	return func(rc *RetryClient) {
		rc.baseDelay = base
		rc.maxDelay = max
	}
}

// NewRetryClient wraps client, or a 30s http.Client when nil. maxRetries
// counts attempts after the first and defaults to 3.
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	rc := &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		baseDelay:  250 * time.Millisecond,
		maxDelay:   2 * time.Second,
		log:        logger.Named("httpretry"),
	}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.maxDelay < rc.baseDelay {
		rc.maxDelay = rc.baseDelay
	}
	return rc
}

// Do sends req, retrying network errors and 429/5xx answers. The final
// retryable response is returned as-is so the caller can inspect it. The
// request body is rewound through GetBody between attempts.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("httpretry: rewinding body: %w", err)
			}
			req.Body = body
		}

		resp, err := rc.client.Do(req)
		var hint time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
		case !IsRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries:
			return resp, nil
		default:
			hint = retryAfter(resp)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("httpretry: server returned %d", resp.StatusCode)
		}

		if attempt == rc.maxRetries {
			return nil, lastErr
		}
		delay := rc.delay(attempt+1, hint)
		if !fitsDeadline(ctx, delay) {
			rc.log.Debug("retry would pass the deadline, giving up", "attempt", attempt+1, "host", req.URL.Host)
			return nil, lastErr
		}
		rc.log.Debug("retrying request", "attempt", attempt+1, "max_retries", rc.maxRetries,
			"host", req.URL.Host, "path", req.URL.Path, "delay", delay.String())

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, lastErr
		}
	}
}

// delay is base·2^(n-1) capped at maxDelay, with the upper half jittered.
// A server Retry-After hint replaces it, still capped.
func (rc *RetryClient) delay(n int, hint time.Duration) time.Duration {
	if hint > 0 {
		return min(hint, rc.maxDelay)
	}
	d := rc.baseDelay << (n - 1)
	if d <= 0 || d > rc.maxDelay {
		d = rc.maxDelay
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + rand.N(half+1)
}

func fitsDeadline(ctx context.Context, delay time.Duration) bool {
	deadline, ok := ctx.Deadline()
	return !ok || time.Until(deadline) > delay
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(resp *http.Response) time.Duration {
	s, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

// IsRetryableStatus reports whether a status marks a transient server-side
// failure: 429, 500, 502, 503 or 504.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
