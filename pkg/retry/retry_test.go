package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/go-task-reminder/pkg/retry"
)

var fast = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fast, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "fn should be called exactly once on immediate success")
}

func TestDo_RetriesOnTransientError(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fast, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("smtp 421 try again")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "fn should be called twice: fail then succeed")
}

func TestDo_ReturnsErrorAfterMaxAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("connection refused")
	err := retry.Do(context.Background(), fast, func(context.Context) error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 3, calls, "fn should be called exactly MaxAttempts times")
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	sentinel := errors.New("no handler for channel sms")
	err := retry.Do(context.Background(), fast, func(context.Context) error {
		calls++
		return retry.Permanent(sentinel)
	})
	assert.Equal(t, sentinel, err, "permanent error is returned unwrapped")
	assert.Equal(t, 1, calls)
}

func TestPermanent(t *testing.T) {
	assert.NoError(t, retry.Permanent(nil))
	base := errors.New("bad payload")
	wrapped := retry.Permanent(base)
	assert.True(t, retry.IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.False(t, retry.IsPermanent(base))
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := retry.Do(ctx, retry.Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}, func(context.Context) error {
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded),
		"expected DeadlineExceeded, got: %v", err)
}

func TestDo_OnRetry_CalledWithCorrectAttempt(t *testing.T) {
	var retryAttempts []int
	_ = retry.Do(context.Background(), retry.Config{
		MaxAttempts: 4,
		BaseDelay:   time.Millisecond,
		OnRetry: func(attempt int, _ error) {
			retryAttempts = append(retryAttempts, attempt)
		},
	}, func(context.Context) error {
		return errors.New("fail")
	})

	// Not called after the last attempt.
	assert.Equal(t, []int{1, 2, 3}, retryAttempts)
}

func TestDo_ZeroMaxAttempts_DefaultsToOne(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Config{BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "MaxAttempts=0 should default to 1 attempt")
}

func TestBackoff(t *testing.T) {
	cfg := retry.Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, retry.Backoff(cfg, 1))
	assert.Equal(t, 4*time.Second, retry.Backoff(cfg, 2))
	assert.Equal(t, 5*time.Second, retry.Backoff(cfg, 3), "capped")

	cfg.MaxDelay = 0
	assert.Equal(t, 9*time.Second, retry.Backoff(cfg, 3))
}
