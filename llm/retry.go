package llm

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"
)

// retryConfig mirrors the teacher's webhook.RetryConfig shape (base,
// cap, multiplier) but pins the values spec §4.6 requires: three attempts,
// base 500ms, cap 8s, full jitter.
type retryConfig struct {
	maxAttempts int
	base        time.Duration
	cap         time.Duration
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxAttempts: 3,
		base:        500 * time.Millisecond,
		cap:         8 * time.Second,
	}
}

// backoff returns the full-jitter exponential delay for the given 1-based
// attempt number, adapted directly from the teacher's
// webhook.RetryManager.backoff (math.Pow base/multiplier, crypto/rand
// jitter) with the jitter mode changed from +/-fraction to full jitter
// (uniform in [0, computed)) as spec §4.6 requires.
func (c retryConfig) backoff(attempt int) time.Duration {
	computed := float64(c.base) * math.Pow(2, float64(attempt-1))
	if computed > float64(c.cap) {
		computed = float64(c.cap)
	}
	return time.Duration(computed * cryptoFloat64())
}

// cryptoFloat64 returns a cryptographically random float64 in [0.0, 1.0),
// identical in construction to the teacher's webhook.cryptoFloat64.
func cryptoFloat64() float64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return float64(binary.BigEndian.Uint64(b[:])>>(64-53)) / float64(1<<53)
}

// RetryAfter, when returned alongside a TransientError, tells withRetry to
// honor a provider's Retry-After hint instead of the computed backoff
// (spec §4.6: "Rate-limit errors honour Retry-After if present").
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// withRetry invokes fn up to cfg.maxAttempts times, retrying only when fn
// returns a *TransientError (network/5xx/rate-limit). Any other error is
// returned immediately without retry.
func withRetry(ctx context.Context, cfg retryConfig, fn func(ctx context.Context) (*Response, error)) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}

		var transient *TransientError
		if !errors.As(err, &transient) {
			return nil, err
		}
		lastErr = transient

		if attempt == cfg.maxAttempts {
			break
		}

		delay := cfg.backoff(attempt)
		if transient.RetryAfter > 0 {
			delay = transient.RetryAfter
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// classifyHTTPError wraps a failed HTTP round-trip or non-2xx response into
// a *TransientError when it looks transient (network error, 5xx, 429 with
// Retry-After honored), or returns the error as-is when it is not
// retriable (4xx other than 429).
func classifyHTTPError(err error, resp *http.Response) error {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return &TransientError{Err: err}
		}
		return err
	}
	if resp == nil {
		return nil
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		te := &TransientError{Err: httpStatusError(resp)}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := parseRetryAfterSeconds(ra); perr == nil {
				te.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return te
	}
	return httpStatusError(resp)
}

func httpStatusError(resp *http.Response) error {
	return &statusError{code: resp.StatusCode}
}

type statusError struct{ code int }

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}

func parseRetryAfterSeconds(v string) (int, error) {
	var secs int
	_, err := fmt.Sscanf(v, "%d", &secs)
	return secs, err
}
