// Package jobs is the data-parallel substrate the sampling engine schedules
// its per-ray stages on.
//
// A job is submitted with the handles it depends on and starts only after
// all of them completed successfully. Handles are futures: they expose a
// Done channel for polling from a host tick and a blocking Wait for
// synchronous callers. Submitted work is never cancelled.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrPanic wraps a panic recovered from job or batch code.
	ErrPanic = errors.New("job panicked")
	// ErrDependency wraps the error of a failed dependency.
	ErrDependency = errors.New("dependency failed")
	// ErrPoolClosed is returned by jobs submitted after Close.
	ErrPoolClosed = errors.New("job pool closed")
)

// minBatch is the smallest default batch handed to one worker.
const minBatch = 64

// Pool runs jobs and bounds how many per-index batches execute at once
// across every job sharing it.
type Pool struct {
	workers int
	sem     chan struct{}

	mu      sync.Mutex
	pending sync.WaitGroup
	closed  bool

	submitted atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool running at most workers batches concurrently.
// workers <= 0 selects GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		workers: workers,
		sem:     make(chan struct{}, workers),
	}
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int { return p.workers }

// Handle tracks one submitted job.
type Handle struct {
	name string
	done chan struct{}
	err  error
}

// Name returns the label the job was submitted with.
func (h *Handle) Name() string { return h.name }

// Done is closed once the job finished, successfully or not.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Complete reports whether the job finished, without blocking.
func (h *Handle) Complete() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the job's error. It is only meaningful once Complete is true.
func (h *Handle) Err() error {
	if !h.Complete() {
		return nil
	}
	return h.err
}

// Wait blocks until the job finishes or ctx ends. It returns the job's error,
// or ctx's error if ctx ended first; the job keeps running in that case.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completed returns a handle that is already finished with err.
func Completed(name string, err error) *Handle {
	h := &Handle{name: name, done: make(chan struct{}), err: err}
	close(h.done)
	return h
}

// Submit schedules fn to run after every dependency completed. If a
// dependency failed, fn is skipped and the handle fails with an error
// wrapping ErrDependency and the dependency's error.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error, deps ...*Handle) *Handle {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Completed(name, fmt.Errorf("%s: %w", name, ErrPoolClosed))
	}
	p.pending.Add(1)
	p.mu.Unlock()

	p.submitted.Add(1)
	h := &Handle{name: name, done: make(chan struct{})}
	go func() {
		defer p.pending.Done()
		defer close(h.done)

		for _, d := range deps {
			if d == nil {
				continue
			}
			<-d.done
			if d.err != nil {
				h.err = fmt.Errorf("%s: %w on %s: %w", name, ErrDependency, d.name, d.err)
				p.failed.Add(1)
				return
			}
		}

		h.err = runGuarded(func() error { return fn(context.Background()) })
		if h.err != nil {
			h.err = fmt.Errorf("%s: %w", name, h.err)
			p.failed.Add(1)
		}
	}()
	return h
}

// ParallelFor splits [0, n) into batches of at most batch indices and calls
// fn(lo, hi) for each on the pool's workers. batch <= 0 picks a size from n
// and the worker count. It returns the first error or recovered panic after
// every started batch returned.
func (p *Pool) ParallelFor(ctx context.Context, n, batch int, fn func(lo, hi int) error) error {
	if n <= 0 {
		return nil
	}
	if batch <= 0 {
		batch = p.DefaultBatch(n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for lo := 0; lo < n; lo += batch {
		lo, hi := lo, min(lo+batch, n)
		g.Go(func() error {
			select {
			case p.sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-p.sem }()
			return runGuarded(func() error { return fn(lo, hi) })
		})
	}
	return g.Wait()
}

// DefaultBatch returns the batch size ParallelFor uses for n indices.
func (p *Pool) DefaultBatch(n int) int {
	b := n / (p.workers * 4)
	if b < minBatch {
		b = minBatch
	}
	return b
}

// Stats returns how many jobs were submitted and how many failed.
func (p *Pool) Stats() (submitted, failed int64) {
	return p.submitted.Load(), p.failed.Load()
}

// Close stops accepting jobs and waits for every submitted job to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.pending.Wait()
}

func runGuarded(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}
