package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunPool_BasicExecution(t *testing.T) {
	pool := NewRunPool(2)
	defer pool.Shutdown()

	var ran int64
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		atomic.AddInt64(&ran, 1)
		return nil
	}))
	pool.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&ran))
	assert.EqualValues(t, 1, pool.Metrics().Completed)
}

func TestRunPool_ConcurrencyLimit(t *testing.T) {
	const size = 3
	pool := NewRunPool(size)
	defer pool.Shutdown()

	var maxConcurrent, current int64
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			c := atomic.AddInt64(&current, 1)
			mu.Lock()
			if c > maxConcurrent {
				maxConcurrent = c
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, maxConcurrent, int64(size))
	assert.Positive(t, maxConcurrent)
}

func TestRunPool_DoBlocksWhileFull(t *testing.T) {
	pool := NewRunPool(1)
	defer pool.Shutdown()

	started := make(chan struct{})
	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started

	done := make(chan error, 1)
	go func() {
		done <- pool.Do(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	}()

	select {
	case <-done:
		t.Fatal("Do should block while the pool is full")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case err := <-done:
		assert.EqualError(t, err, "boom")
	case <-time.After(time.Second):
		t.Fatal("Do did not run after a slot freed up")
	}
	assert.EqualValues(t, 1, pool.Metrics().Failed)
}

func TestRunPool_PanicRecovery(t *testing.T) {
	pool := NewRunPool(2)
	defer pool.Shutdown()

	err := pool.Do(context.Background(), func(ctx context.Context) error { panic("test panic") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test panic")

	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error { panic("again") }))
	pool.Wait()

	m := pool.Metrics()
	assert.EqualValues(t, 2, m.Panics)
	assert.EqualValues(t, 2, m.Failed)
	assert.NoError(t, pool.Do(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestRunPool_ContextCancellation(t *testing.T) {
	pool := NewRunPool(1)
	defer pool.Shutdown()

	block := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.Do(ctx, func(ctx context.Context) error { return nil })
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
	close(block)
	pool.Wait()
}

func TestRunPool_GracefulShutdown(t *testing.T) {
	pool := NewRunPool(2)

	var completed int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&completed, 1)
			return nil
		}))
	}
	pool.Shutdown()
	assert.EqualValues(t, 5, atomic.LoadInt64(&completed))
}

func TestRunPool_AfterShutdown(t *testing.T) {
	pool := NewRunPool(2)
	pool.Shutdown()
	pool.Shutdown()

	assert.ErrorIs(t, pool.Submit(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolShutdown)
	assert.ErrorIs(t, pool.Do(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolShutdown)
}
