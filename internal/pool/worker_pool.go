// Package pool runs asynchronous table operations on a fixed set of
// goroutines.
package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// WorkerPool runs submitted closures on a fixed number of goroutines.
type WorkerPool struct {
	numWorkers int
	workCh     chan func()
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closed     atomic.Bool
	submitMu   sync.RWMutex
}

// NewWorkerPool starts numWorkers goroutines. numWorkers <= 0 uses
// GOMAXPROCS.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	wp := &WorkerPool{
		numWorkers: numWorkers,
		workCh:     make(chan func(), numWorkers*2),
		stopCh:     make(chan struct{}),
	}

	wp.wg.Add(numWorkers)
	for range numWorkers {
		go wp.worker()
	}
	return wp
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int { return wp.numWorkers }

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.stopCh:
			// Queued work still runs so no task is left waiting forever.
			for fn := range wp.workCh {
				fn()
			}
			return
		case fn, ok := <-wp.workCh:
			if !ok {
				return
			}
			fn()
		}
	}
}

// Submit enqueues task. It blocks while the queue is full and fails if the
// pool is closed or ctx is done first.
func (wp *WorkerPool) Submit(ctx context.Context, task func()) error {
	wp.submitMu.RLock()
	defer wp.submitMu.RUnlock()

	if wp.closed.Load() {
		return ErrClosed
	}

	select {
	case wp.workCh <- task:
		return nil
	case <-wp.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, runs what is queued and waits for the
// workers. It is idempotent.
func (wp *WorkerPool) Close() {
	if !wp.closed.CompareAndSwap(false, true) {
		return
	}

	wp.submitMu.Lock()
	close(wp.stopCh)
	close(wp.workCh)
	wp.submitMu.Unlock()

	wp.wg.Wait()
}

// Task is the pending result of work submitted with Go.
type Task[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go runs fn on wp and returns its pending result. If the work cannot be
// submitted the task completes immediately with that error.
func Go[T any](ctx context.Context, wp *WorkerPool, fn func(context.Context) (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	err := wp.Submit(ctx, func() {
		defer close(t.done)
		if err := ctx.Err(); err != nil {
			t.err = err
			return
		}
		t.value, t.err = fn(ctx)
	})
	if err != nil {
		t.err = err
		close(t.done)
	}
	return t
}

// Wait blocks until the task finishes or ctx is done. Abandoning a wait
// does not cancel the task.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the task has finished.
func (t *Task[T]) Done() <-chan struct{} { return t.done }
