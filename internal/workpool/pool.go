// ABOUTME: Bounded worker pool for blocking persistence calls
// ABOUTME: Keeps database and filesystem work off connection goroutines

package workpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the pool width used when a non-positive size is configured.
const DefaultSize = 8

// ErrClosed is returned by Do after Close has been called.
var ErrClosed = errors.New("worker pool closed")

// WaitObserver receives how long each task waited for a slot.
type WaitObserver func(wait time.Duration)

// Pool runs blocking functions on a bounded number of goroutines.
type Pool struct {
	sem      *semaphore.Weighted
	size     int64
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	observer WaitObserver
	logger   *slog.Logger
}

// New creates a pool with the given number of slots. Pass nil logger for default.
func New(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = DefaultSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   int64(size),
		logger: logger.With("component", "workpool"),
	}
}

// OnWait installs an observer for slot wait times. Not safe to call
// concurrently with Do.
func (p *Pool) OnWait(fn WaitObserver) {
	p.observer = fn
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return int(p.size)
}

// Do waits for a free slot, runs fn on a pool goroutine, and returns its
// error. If ctx ends first, Do returns ctx.Err() without waiting for fn to
// finish; fn receives the same ctx and is expected to observe it. A result
// fn has already delivered is returned even if ctx has ended since.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.wg.Done()
		return err
	}
	if p.observer != nil {
		p.observer(time.Since(start))
	}

	done := make(chan error, 1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// fn may have finished in the same instant; its result wins.
		select {
		case err := <-done:
			return err
		default:
		}
		p.logger.Debug("caller gave up waiting for task", "error", ctx.Err())
		return ctx.Err()
	}
}

// Call runs fn on the pool and returns its result.
func Call[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		// fn may still be running if ctx ended first; never read out here.
		var zero T
		return zero, err
	}
	return out, nil
}

// Close rejects new work and waits for in-flight tasks to finish or for ctx
// to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
