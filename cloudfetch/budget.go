package cloudfetch

import (
	"context"
	"fmt"
	"sync"

	"cloudeng.io/file/diskusage"
)

// MemoryBudget is a byte-granular counting semaphore bounding the total
// size of downloaded-but-unreleased chunk payloads held anywhere in the
// pipeline at once. It is implemented as a mutex-guarded counter rather
// than a fixed-token channel (cloudeng.io/sync/errgroup's concurrency
// limiter) because reservations here are variably sized -- a fixed number
// of tokens can't express "reserve 37MB", only "reserve one slot".
type MemoryBudget struct {
	mu        sync.Mutex
	cond      *sync.Cond
	capacity  int64
	available int64
	closed    bool
}

// NewMemoryBudget creates a MemoryBudget with the given total capacity in
// bytes.
func NewMemoryBudget(capacityBytes int64) *MemoryBudget {
	b := &MemoryBudget{capacity: capacityBytes, available: capacityBytes}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Capacity returns the total byte capacity this budget was created with.
func (b *MemoryBudget) Capacity() int64 { return b.capacity }

// Available returns the number of bytes currently unreserved.
func (b *MemoryBudget) Available() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

// Reserve blocks until n bytes are available, ctx is done, or the budget
// is closed. A request for more bytes than the budget's total capacity
// fails immediately with ErrBudgetExhaustedConfiguration: no amount of
// waiting would ever satisfy it, and that distinguishes a configuration
// mistake from ordinary back-pressure.
func (b *MemoryBudget) Reserve(ctx context.Context, n int64) error {
	if n > b.capacity {
		return fmt.Errorf("%w: chunk of %v exceeds capacity %v",
			ErrBudgetExhaustedConfiguration, diskusage.Decimal(n), diskusage.Decimal(b.capacity))
	}

	// sync.Cond has no native ctx support; a watcher goroutine turns
	// cancellation into a Broadcast so the waiter below can recheck
	// ctx.Err() instead of blocking forever.
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
		if b.closed {
			return ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.available >= n {
			b.available -= n
			return nil
		}
		b.cond.Wait()
	}
}

// Release returns n bytes to the budget, waking any reservations waiting
// on them.
func (b *MemoryBudget) Release(n int64) {
	b.mu.Lock()
	b.available += n
	if b.available > b.capacity {
		b.available = b.capacity
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Close wakes every goroutine blocked in Reserve with ErrCancelled, and
// causes future Reserve calls to return it immediately.
func (b *MemoryBudget) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}
