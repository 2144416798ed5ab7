package cloudfetch

import (
	"context"
	"sync"
)

// Queue is a fixed-capacity, blocking, closable FIFO. It is a thin
// generic wrapper around a buffered channel -- the same producer/consumer
// idiom large_download.go and streaming_downloader.go use directly with
// raw requestCh/responseCh channels, generalized into one type. The
// pipeline uses it for the pending-to-download stage; the ready side is
// the heap-based reorderBuffer, not a Queue.
type Queue[T any] struct {
	ch        chan T
	closeOnce sync.Once
}

// NewQueue creates a Queue with the given buffered capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Put enqueues v, blocking while the queue is full, until ctx is done.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take dequeues the next value, blocking while the queue is empty, until
// ctx is done. ok is false once the queue has been closed and fully
// drained.
func (q *Queue[T]) Take(ctx context.Context) (v T, ok bool, err error) {
	select {
	case v, ok = <-q.ch:
		return v, ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Close must be called only after every goroutine that might call Put has
// already returned -- exactly as large_download.go's sole generator
// goroutine closes its request channel with "defer close(reqCh)". It is
// safe to call more than once. Calling it while a Put is still in flight
// panics, by ordinary channel-close semantics.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Len reports the number of values currently buffered.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap reports the queue's buffered capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }
