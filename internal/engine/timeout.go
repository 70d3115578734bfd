package engine

import (
	"context"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
)

// StepTimeout returns the effective timeout for a step: its own value when
// positive, otherwise fallback, otherwise schema.DefaultStepTimeoutMs.
func StepTimeout(step *schema.StepDefinition, fallback time.Duration) time.Duration {
	if step != nil && step.Timeout > 0 {
		return time.Duration(step.Timeout) * time.Millisecond
	}
	if fallback > 0 {
		return fallback
	}
	return schema.DefaultStepTimeoutMs * time.Millisecond
}

type outcome[T any] struct {
	val T
	err error
}

// WithTimeout races fn against a deadline of d.
//
// fn receives a context that is cancelled when the deadline passes, so a
// cooperative invocation stops promptly. WithTimeout never waits for fn after
// the deadline: a handler that ignores its context keeps running in the
// background and its eventual result is discarded.
//
// On expiry the error is TIMEOUT_ERROR wrapping context.DeadlineExceeded.
// Cancellation of ctx itself yields CANCELLED. A panic in fn is reported as
// TOOL_EXECUTION_ERROR.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		d = schema.DefaultStepTimeoutMs * time.Millisecond
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan outcome[T], 1) // buffered: a late loser must not block forever
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: schema.NewErrorf(schema.ErrCodeToolExecution, "tool panicked: %v", r)}
			}
		}()
		v, err := fn(tctx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && tctx.Err() != nil {
			return zero, expiryError(ctx, d)
		}
		return o.val, o.err
	case <-tctx.Done():
		return zero, expiryError(ctx, d)
	}
}

func expiryError(parent context.Context, d time.Duration) error {
	if parent.Err() != nil {
		return schema.NewErrorf(schema.ErrCodeCancelled, "cancelled: %v", parent.Err()).WithCause(parent.Err())
	}
	return schema.NewErrorf(schema.ErrCodeTimeout, "timed out after %s", d).
		WithCause(context.DeadlineExceeded).
		WithDetails(map[string]any{"timeout_ms": d.Milliseconds()})
}
