// Package httpx holds the shared HTTP client and retry loop used by the
// polling chat sources.
package httpx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// DefaultRetries is the retry count used by DoWithRetry callers that have
// no reason to choose their own.
const DefaultRetries = 3

// NewClient returns an HTTP client with connection pooling and bounded
// dial, handshake and header timeouts.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// StatusError is a transient HTTP failure that survived every retry.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Backoff is the wait before retry attempt n (n >= 1).
var Backoff = func(n int) time.Duration {
	base := time.Duration(n*n) * time.Second
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// DoWithRetry executes an idempotent request, retrying network failures,
// 5xx and 429 responses with growing backoff. Other responses, errors
// included, are returned to the caller unread.
func DoWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), retries int, logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := Backoff(attempt)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", retries, lastErr)
}
