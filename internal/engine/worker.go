package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// PoolMetrics is a snapshot of run pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned for work offered to a pool after Shutdown.
var ErrPoolShutdown = errors.New("run pool is shut down")

// RunPool caps the number of workflow runs executing at once. It says nothing
// about steps, which always run one after another inside their run.
type RunPool struct {
	sem *semaphore.Weighted

	// closing is cancelled by Shutdown and wakes every waiting acquire.
	closing context.Context
	close   context.CancelFunc

	mu       sync.Mutex // orders wg.Add against Shutdown
	inflight sync.WaitGroup

	active, completed, failed, panics atomic.Int64
}

func NewRunPool(size int) *RunPool {
	closing, cancel := context.WithCancel(context.Background())
	return &RunPool{
		sem:     semaphore.NewWeighted(int64(max(size, 1))),
		closing: closing,
		close:   cancel,
	}
}

func (p *RunPool) acquire(ctx context.Context) error {
	if p.closing.Err() != nil {
		return ErrPoolShutdown
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(p.closing, cancel)()

	if err := p.sem.Acquire(wctx, 1); err != nil {
		if p.closing.Err() != nil {
			return ErrPoolShutdown
		}
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing.Err() != nil {
		p.sem.Release(1)
		return ErrPoolShutdown
	}
	p.inflight.Add(1)
	p.active.Add(1)
	return nil
}

// execute runs fn in an acquired slot, turning a panic into an error.
func (p *RunPool) execute(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			err = fmt.Errorf("run panicked: %v", r)
		}
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		p.active.Add(-1)
		p.sem.Release(1)
		p.inflight.Done()
	}()
	return fn(ctx)
}

// Submit waits for a free slot, then runs fn on its own goroutine.
func (p *RunPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	go func() { _ = p.execute(ctx, fn) }()
	return nil
}

// Do waits for a free slot and runs fn on the calling goroutine.
func (p *RunPool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	return p.execute(ctx, fn)
}

// Wait blocks until every started run has returned.
func (p *RunPool) Wait() { p.inflight.Wait() }

// Shutdown refuses new work and waits for running work. Safe to call twice.
func (p *RunPool) Shutdown() {
	p.mu.Lock()
	p.close()
	p.mu.Unlock()
	p.inflight.Wait()
}

func (p *RunPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
