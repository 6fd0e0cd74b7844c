package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffNeverExceedsCap(t *testing.T) {
	cfg := defaultRetryConfig()
	for attempt := 1; attempt <= 10; attempt++ {
		d := cfg.backoff(attempt)
		assert.LessOrEqual(t, d, cfg.cap)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestWithRetryStopsOnNonTransientError(t *testing.T) {
	calls := 0
	permanent := errors.New("boom")
	_, err := withRetry(context.Background(), defaultRetryConfig(), func(ctx context.Context) (*Response, error) {
		calls++
		return nil, permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestWithRetryExhaustsMaxAttemptsOnTransientError(t *testing.T) {
	cfg := defaultRetryConfig()
	cfg.base = time.Millisecond
	cfg.cap = 2 * time.Millisecond

	calls := 0
	_, err := withRetry(context.Background(), cfg, func(ctx context.Context) (*Response, error) {
		calls++
		return nil, &TransientError{Err: errors.New("unavailable")}
	})
	require.Error(t, err)
	assert.Equal(t, cfg.maxAttempts, calls)
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := defaultRetryConfig()
	cfg.base = time.Millisecond
	cfg.cap = 2 * time.Millisecond

	calls := 0
	resp, err := withRetry(context.Background(), cfg, func(ctx context.Context) (*Response, error) {
		calls++
		if calls < 2 {
			return nil, &TransientError{Err: errors.New("unavailable")}
		}
		return &Response{Text: "ok"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 2, calls)
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	cfg := defaultRetryConfig()
	cfg.base = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := withRetry(ctx, cfg, func(ctx context.Context) (*Response, error) {
		return nil, &TransientError{Err: errors.New("unavailable")}
	})
	require.Error(t, err)
}
