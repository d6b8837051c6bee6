// Package worker provides the queue-plus-goroutine machinery shared by
// modules that process inbound events off the publisher's goroutine.
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by TryEnqueue after the worker was stopped.
var ErrStopped = errors.New("worker: stopped")

// ErrQueueFull is returned by TryEnqueue when the queue has no free slot.
var ErrQueueFull = errors.New("worker: queue full")

// Worker manages a single goroutine draining a bounded queue of items.
// It centralizes the queueing and shutdown mechanics shared by the
// conversation and audio workers.
//
// Shutdown policy is abandon, not drain: Stop cancels the worker context and
// the loop re-checks cancellation before every receive, so after Stop at most
// the item already being handled completes and the backlog stays queued.
// DrainNonBlocking lets the owner dispose of the backlog afterwards.
type Worker[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan T
	wg     sync.WaitGroup
}

// New constructs a worker bound to the parent context.
func New[T any](parent context.Context, buffer int) *Worker[T] {
	if parent == nil {
		parent = context.Background()
	}
	if buffer <= 0 {
		buffer = 1
	}
	ctx, cancel := context.WithCancel(parent)
	return &Worker[T]{
		ctx:    ctx,
		cancel: cancel,
		ch:     make(chan T, buffer),
	}
}

// Start launches the worker loop.
// handle should return true to stop the loop after processing an item.
// onQuit runs when the loop exits because the worker was stopped; onExit runs
// on every exit path.
func (w *Worker[T]) Start(handle func(item T) (stop bool), onQuit, onExit func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.cancel()
		if onExit != nil {
			defer onExit()
		}

		for {
			// Cancellation wins over a ready backlog.
			select {
			case <-w.ctx.Done():
				if onQuit != nil {
					onQuit()
				}
				return
			default:
			}

			select {
			case <-w.ctx.Done():
				if onQuit != nil {
					onQuit()
				}
				return
			case item := <-w.ch:
				if handle(item) {
					return
				}
			}
		}
	}()
}

// Context returns the worker context. Handlers can derive per-item contexts
// from it so in-flight work is cancelled together with the worker.
func (w *Worker[T]) Context() context.Context {
	return w.ctx
}

// TryEnqueue appends an item without blocking. It is safe to call from bus
// handlers running on a publisher's goroutine.
func (w *Worker[T]) TryEnqueue(item T) error {
	select {
	case <-w.ctx.Done():
		return ErrStopped
	default:
	}

	select {
	case w.ch <- item:
		return nil
	case <-w.ctx.Done():
		return ErrStopped
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued items not yet handed to the loop.
func (w *Worker[T]) Pending() int {
	return len(w.ch)
}

// Stop cancels the worker context.
func (w *Worker[T]) Stop() {
	w.cancel()
}

// Wait blocks until the worker goroutine exits or ctx is done, returning the
// context error on timeout.
func (w *Worker[T]) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainNonBlocking drains all currently buffered items without blocking.
func (w *Worker[T]) DrainNonBlocking(consume func(item T)) int {
	drained := 0
	for {
		select {
		case item := <-w.ch:
			drained++
			if consume != nil {
				consume(item)
			}
		default:
			return drained
		}
	}
}
