package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
)

// RetryOption configures a WithRetry call.
type RetryOption func(*retryConfig)

type retryConfig struct {
	skipTerminal bool
	onRetry      func(attempt int, delay time.Duration, err error)
}

// WithSkipTerminal stops retrying as soon as an attempt fails with a terminal
// code (see schema.IsTerminal).
func WithSkipTerminal() RetryOption {
	return func(c *retryConfig) { c.skipTerminal = true }
}

// WithOnRetry registers a hook called after a failed attempt, before the
// backoff wait. attempt is the number of the attempt that just failed.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) RetryOption {
	return func(c *retryConfig) { c.onRetry = fn }
}

// MaxAttempts returns the total number of attempts allowed by policy.
func MaxAttempts(policy *schema.RetryPolicy) int {
	if policy == nil || policy.MaxAttempts <= 0 {
		return schema.DefaultMaxAttempts
	}
	return policy.MaxAttempts
}

// Backoff returns the wait after the given failed attempt (1-based): the
// policy delay multiplied by the attempt number.
func Backoff(policy *schema.RetryPolicy, attempt int) time.Duration {
	delayMs := int64(schema.DefaultRetryDelayMs)
	if policy != nil && policy.DelayMs > 0 {
		delayMs = policy.DelayMs
	}
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(delayMs*int64(attempt)) * time.Millisecond
}

// IsRetryable classifies a failed attempt. Cancellation is never retried.
// Everything else is retried unless skipTerminal is set and err is terminal.
func IsRetryable(err error, skipTerminal bool) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || schema.CodeOf(err) == schema.ErrCodeCancelled {
		return false
	}
	if skipTerminal && schema.IsTerminal(err) {
		return false
	}
	return true
}

// WithRetry calls fn until it succeeds, the policy's attempts are exhausted,
// or the failure is not retryable. It returns the number of attempts made and
// the last error.
//
// The wait between attempts is interrupted by ctx; the result is then a
// CANCELLED error carrying the last attempt's error as detail.
func WithRetry(ctx context.Context, policy *schema.RetryPolicy, fn func(ctx context.Context, attempt int) error, opts ...RetryOption) (int, error) {
	cfg := retryConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	maxAttempts := MaxAttempts(policy)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if attempt == maxAttempts || !IsRetryable(lastErr, cfg.skipTerminal) {
			return attempt, lastErr
		}

		delay := Backoff(policy, attempt)
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, delay, lastErr)
		}
		if err := waitForBackoff(ctx, delay); err != nil {
			return attempt, schema.NewErrorf(schema.ErrCodeCancelled, "cancelled while waiting to retry: %v", err).
				WithCause(err).
				WithDetails(map[string]any{"last_error": lastErr.Error(), "attempts": attempt})
		}
	}
	return maxAttempts, lastErr
}

// waitForBackoff sleeps for delay or returns early if ctx is done.
func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
