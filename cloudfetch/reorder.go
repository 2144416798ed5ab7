package cloudfetch

import (
	"context"
	"sync"

	"cloudeng.io/algo/container/heap"
)

// arrival is one completed (or failed) chunk waiting in the reorder
// buffer's heap for its turn to be delivered.
type arrival struct {
	desc Descriptor
}

func (a arrival) Less(o arrival) bool { return a.desc.ChunkIndex < o.desc.ChunkIndex }

// reorderBuffer converts the arrival-order stream of completed
// Descriptors published by a Downloader's worker goroutines into a
// strictly chunk-index-ordered stream, exactly as streaming_downloader.go
// uses a heap and a tracking cursor to reorder byte ranges before writing
// them to its pipe. It has no capacity bound of its own: workers keep
// publishing while an earlier chunk is outstanding, and its depth is
// limited only indirectly, by the MemoryBudget reservation each Ready
// chunk holds until the consumer releases it.
type reorderBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     heap.Heap[arrival]
	nextIdx  int64
	done     bool
	finalErr error
}

func newReorderBuffer() *reorderBuffer {
	b := &reorderBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// publish records a completed or failed chunk's arrival.
func (b *reorderBuffer) publish(desc Descriptor) {
	b.mu.Lock()
	b.heap.Push(arrival{desc: desc})
	b.cond.Broadcast()
	b.mu.Unlock()
}

// closeWithError marks the buffer exhausted: no further arrivals will be
// published. err (possibly nil, for a clean end of stream) is returned by
// next once every already-published chunk has been drained in order.
func (b *reorderBuffer) closeWithError(err error) {
	b.mu.Lock()
	b.done = true
	b.finalErr = err
	b.cond.Broadcast()
	b.mu.Unlock()
}

// next blocks until the descriptor for the next expected chunk index has
// arrived, the buffer is closed and fully drained, or ctx is done.
func (b *reorderBuffer) next(ctx context.Context) (Descriptor, bool, error) {
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-watchDone:
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return Descriptor{}, false, err
		}
		if b.heap.Len() > 0 {
			head := b.heap.Pop()
			if head.desc.ChunkIndex == b.nextIdx {
				b.nextIdx++
				return head.desc, true, nil
			}
			b.heap.Push(head)
		}
		if b.done && b.heap.Len() == 0 {
			return Descriptor{}, false, b.finalErr
		}
		b.cond.Wait()
	}
}

// drainAndRelease releases the memory reservation for every
// still-undelivered, successfully-downloaded chunk in the buffer. It is
// used on Stop, when some chunks may be sitting fully downloaded but will
// never be handed to a consumer.
func (b *reorderBuffer) drainAndRelease(budget *MemoryBudget) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.heap.Len() > 0 {
		a := b.heap.Pop()
		if a.desc.State == StateReady {
			budget.Release(a.desc.CompressedByteCount)
		}
	}
}
