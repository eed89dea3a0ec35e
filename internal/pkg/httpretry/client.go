// Package httpretry provides an HTTP client with retry, exponential backoff
// and jitter for outbound deliveries that are safe to repeat (lead webhooks).
// Conversion forwarding must not use it: that leg is at-most-one attempt.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/ignite/phase-funnel/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Backoff bounds the delay between attempts.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used when NewRetryClient gets a zero Backoff.
var DefaultBackoff = Backoff{Base: 500 * time.Millisecond, Max: 10 * time.Second}

// RetryClient wraps an HTTPDoer with retry logic using exponential backoff and jitter.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	backoff    Backoff
}

// NewRetryClient wraps client. A nil client becomes an http.Client with a 15s
// timeout; maxRetries <= 0 means 3 retries after the first attempt.
func NewRetryClient(client HTTPDoer, maxRetries int, backoff Backoff) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff.Base <= 0 {
		backoff.Base = DefaultBackoff.Base
	}
	if backoff.Max <= 0 {
		backoff.Max = DefaultBackoff.Max
	}
	return &RetryClient{client: client, maxRetries: maxRetries, backoff: backoff}
}

// Do executes the request, retrying 429/5xx responses and transport errors.
// Client errors and context cancellation are returned immediately. The last
// retryable response is returned as-is so the caller can inspect it.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.delay(attempt)
			logger.Warn("httpretry: retrying",
				"attempt", attempt, "max", rc.maxRetries, "host", req.URL.Host, "path", req.URL.Path, "wait", delay)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}

		if !IsRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// delay is full-jitter exponential backoff: random(0, min(Max, Base*2^(attempt-1))),
// floored at Base/10.
func (rc *RetryClient) delay(attempt int) time.Duration {
	exp := float64(rc.backoff.Base) * math.Pow(2, float64(attempt-1))
	if exp > float64(rc.backoff.Max) {
		exp = float64(rc.backoff.Max)
	}
	jittered := time.Duration(rand.Float64() * exp)
	if floor := rc.backoff.Base / 10; jittered < floor {
		jittered = floor
	}
	return jittered
}

// IsRetryableStatus reports whether code is a transient server-side failure:
// 429, 500, 502, 503, 504.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
