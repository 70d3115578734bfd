package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_Linear(t *testing.T) {
	p := &schema.RetryPolicy{MaxAttempts: 4, DelayMs: 100}
	assert.Equal(t, 100*time.Millisecond, Backoff(p, 1))
	assert.Equal(t, 200*time.Millisecond, Backoff(p, 2))
	assert.Equal(t, 300*time.Millisecond, Backoff(p, 3))
}

func TestBackoff_Defaults(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(nil, 1))
	assert.Equal(t, 2*time.Second, Backoff(&schema.RetryPolicy{}, 2))
	assert.Equal(t, 1, MaxAttempts(nil))
	assert.Equal(t, 1, MaxAttempts(&schema.RetryPolicy{MaxAttempts: 0}))
	assert.Equal(t, 5, MaxAttempts(&schema.RetryPolicy{MaxAttempts: 5}))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil, false))
	assert.False(t, IsRetryable(context.Canceled, false))
	assert.False(t, IsRetryable(schema.NewError(schema.ErrCodeCancelled, "x"), false))
	assert.True(t, IsRetryable(errors.New("connection reset"), true))
	assert.True(t, IsRetryable(schema.NewError(schema.ErrCodeTimeout, "slow"), true))

	notFound := schema.NewError(schema.ErrCodeToolNotFound, "nope")
	assert.True(t, IsRetryable(notFound, false), "terminal codes are retried unless skipping")
	assert.False(t, IsRetryable(notFound, true))
	assert.False(t, IsRetryable(schema.NewError(schema.ErrCodeToolNotImplemented, "x"), true))
	assert.False(t, IsRetryable(schema.NewError(schema.ErrCodeUnresolved, "x"), true))
}

func TestWithRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	start := time.Now()
	attempts, err := WithRetry(context.Background(), &schema.RetryPolicy{MaxAttempts: 3, DelayMs: 20},
		func(ctx context.Context, attempt int) error {
			calls++
			assert.Equal(t, calls, attempt)
			if attempt < 3 {
				return errors.New("flaky")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond) // 20 + 40
}

func TestWithRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	attempts, err := WithRetry(context.Background(), &schema.RetryPolicy{MaxAttempts: 2, DelayMs: 1},
		func(ctx context.Context, attempt int) error {
			return schema.NewErrorf(schema.ErrCodeToolExecution, "attempt %d", attempt)
		})
	assert.Equal(t, 2, attempts)
	assert.EqualError(t, err, "[TOOL_EXECUTION_ERROR] attempt 2")
}

func TestWithRetry_NoPolicyIsSingleAttempt(t *testing.T) {
	calls := 0
	attempts, err := WithRetry(context.Background(), nil, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("x")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_SkipTerminal(t *testing.T) {
	calls := 0
	attempts, err := WithRetry(context.Background(), &schema.RetryPolicy{MaxAttempts: 5, DelayMs: 1},
		func(ctx context.Context, attempt int) error {
			calls++
			return schema.NewError(schema.ErrCodeToolNotFound, "missing")
		}, WithSkipTerminal())
	assert.Equal(t, schema.ErrCodeToolNotFound, schema.CodeOf(err))
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_OnRetryHook(t *testing.T) {
	var seen []time.Duration
	_, _ = WithRetry(context.Background(), &schema.RetryPolicy{MaxAttempts: 3, DelayMs: 1},
		func(ctx context.Context, attempt int) error { return errors.New("x") },
		WithOnRetry(func(attempt int, delay time.Duration, err error) {
			seen = append(seen, delay)
		}))
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, seen)
}

func TestWithRetry_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	attempts, err := WithRetry(ctx, &schema.RetryPolicy{MaxAttempts: 3, DelayMs: 10_000},
		func(ctx context.Context, attempt int) error {
			cancel()
			return errors.New("down")
		})
	assert.Equal(t, 1, attempts)
	assert.Equal(t, schema.ErrCodeCancelled, schema.CodeOf(err))
	assert.Less(t, time.Since(start), time.Second)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "down", fe.Details["last_error"])
}
