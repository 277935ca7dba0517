package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "fetch", fast, func() error {
		calls++
		if calls < 3 {
			return errors.New("503")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Retry(context.Background(), "fetch", fast, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanent(t *testing.T) {
	notFound := errors.New("404")
	calls := 0
	err := Retry(context.Background(), "fetch", fast, func() error {
		calls++
		return Permanent(notFound)
	})
	assert.Same(t, notFound, err)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "fetch", RetryConfig{MaxAttempts: 5, InitialDelay: time.Second}, func() error {
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeDelayIsCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 10, JitterFraction: 0.1}
	assert.Equal(t, 3*time.Second, computeDelay(4, cfg))
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	notFound := errors.New("not found")
	cb := NewCircuitBreaker("docs-host", BreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		IsFailure:        func(err error) bool { return !errors.Is(err, notFound) },
	})
	cb.now = func() time.Time { return now }

	down := errors.New("connection refused")
	calls := 0
	fail := func() error { calls++; return down }

	assert.ErrorIs(t, cb.Execute(func() error { return notFound }), notFound)
	assert.ErrorIs(t, cb.Execute(fail), down)
	assert.ErrorIs(t, cb.Execute(func() error { return notFound }), notFound)
	assert.Equal(t, BreakerClosed, cb.State(), "ignored errors do not count")
	assert.ErrorIs(t, cb.Execute(fail), down)
	assert.Equal(t, BreakerOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(fail), ErrCircuitOpen)
	assert.Equal(t, 2, calls, "open breaker does not call through")

	now = now.Add(time.Minute)
	assert.ErrorIs(t, cb.Execute(fail), down)
	assert.Equal(t, BreakerOpen, cb.State(), "failed probe re-opens")

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, BreakerClosed, cb.State())
}
