package cloudfetch

import (
	"context"
	"fmt"
	"sync"
)

// Manager owns a LinkFetcher, a Downloader, their shared pending Queue,
// and the MemoryBudget both draw on, presenting them as a single
// Start/NextDownloaded/Stop surface to a Reader.
type Manager struct {
	fetcher    *LinkFetcher
	downloader *Downloader
	budget     *MemoryBudget
	pending    *Queue[Descriptor]

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewManager wires together an already-constructed LinkFetcher and
// Downloader that share pending and budget.
func NewManager(fetcher *LinkFetcher, downloader *Downloader, budget *MemoryBudget, pending *Queue[Descriptor]) *Manager {
	return &Manager{fetcher: fetcher, downloader: downloader, budget: budget, pending: pending}
}

// Start begins both the link fetcher and the downloader. It is an error
// to call Start more than once.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("%w: manager already started", ErrInvalidState)
	}
	m.started = true
	m.mu.Unlock()

	if err := m.fetcher.Start(ctx); err != nil {
		return err
	}
	return m.downloader.Start(ctx)
}

// NextDownloaded returns the next chunk in strict chunk-index order, or
// ok=false once the pipeline is exhausted. If exhaustion was caused by a
// fetcher or downloader error, that error is returned; a clean end of
// stream (or a Stop-induced cancellation) returns ok=false with a nil
// error.
func (m *Manager) NextDownloaded(ctx context.Context) (Descriptor, bool, error) {
	desc, ok, err := m.downloader.NextReady(ctx)
	if err != nil {
		return Descriptor{}, false, err
	}
	if ok {
		return desc, true, nil
	}
	if ferr := m.fetcher.Err(); ferr != nil {
		return Descriptor{}, false, ferr
	}
	if derr := m.downloader.Err(); derr != nil {
		return Descriptor{}, false, derr
	}
	return Descriptor{}, false, nil
}

// Release returns n bytes to the shared memory budget. Callers must call
// this exactly once per Ready descriptor they receive from
// NextDownloaded, after they are done with its payload; Failed
// descriptors have already had their reservation released internally.
func (m *Manager) Release(n int64) {
	m.budget.Release(n)
}

// Stats returns a snapshot of the downloader's activity counters.
func (m *Manager) Stats() Stats {
	return m.downloader.Stats()
}

// Stop cancels both the fetcher and the downloader, waits for them to
// exit, and closes the memory budget. Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.fetcher.Stop()
	m.downloader.Stop()
	m.budget.Close()
}
