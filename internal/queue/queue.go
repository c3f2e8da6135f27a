// Package queue provides the bounded handoff queue between the identifier
// scan stage and the load-and-index workers of one type group.
//
// A Queue has exactly one producer and any number of consumers. The producer
// closes the queue once when it stops, whatever the reason; consumers keep
// taking until the queue is both closed and empty. Each item is delivered to
// exactly one consumer.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Put once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO handoff between one producer and many consumers.
type Queue[T any] struct {
	items  chan T
	closed atomic.Bool
	once   sync.Once

	put   atomic.Int64
	taken atomic.Int64
}

// Stats counts the items that went through the queue.
type Stats struct {
	Put   int64
	Taken int64
}

// New creates a queue holding at most capacity items. Capacities below one
// are raised to one.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{items: make(chan T, capacity)}
}

// Put blocks until there is room for item, the context is done or the
// queue is closed. Put must only be called by the producer.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case q.items <- item:
		q.put.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take blocks until an item is available, the queue is closed and drained,
// or the context is done. ok is false only when the queue is closed and
// empty; err is non-nil only when the context ended first.
func (q *Queue[T]) Take(ctx context.Context) (item T, ok bool, err error) {
	select {
	case v, open := <-q.items:
		if !open {
			return item, false, nil
		}
		q.taken.Add(1)
		return v, true, nil
	case <-ctx.Done():
		return item, false, ctx.Err()
	}
}

// Close marks the end of production. Items already queued stay available to
// consumers. Close is idempotent.
func (q *Queue[T]) Close() {
	q.once.Do(func() {
		q.closed.Store(true)
		close(q.items)
	})
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	return q.closed.Load()
}

// Drain removes and returns every item still queued without blocking. It is
// meant for the owner of the queue once consumers have stopped, so that
// leftover items can be reported instead of silently dropped.
func (q *Queue[T]) Drain() []T {
	var rest []T
	for {
		select {
		case v, open := <-q.items:
			if !open {
				return rest
			}
			q.taken.Add(1)
			rest = append(rest, v)
		default:
			return rest
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}

// Stats returns how many items were put and taken so far.
func (q *Queue[T]) Stats() Stats {
	return Stats{Put: q.put.Load(), Taken: q.taken.Load()}
}
