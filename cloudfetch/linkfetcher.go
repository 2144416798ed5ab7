package cloudfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	cerrors "cloudeng.io/errors"
)

// linkFetcherHooks is implemented once per wire-protocol variant; the
// shared production loop in LinkFetcher calls only these two hooks. The
// initial-response handling that spec'd protocol descriptions treat as a
// separate pair of hooks collapses into common logic here, because by the
// time a LinkFetcher is constructed the Session boundary has already
// normalized both protocols' initial response into the same
// InitialResponse shape.
type linkFetcherHooks interface {
	// fetchNextBatch retrieves the next batch of links from the upstream
	// Session, advancing whatever cursor the protocol variant keeps.
	fetchNextBatch(ctx context.Context) (links []LinkRecord, hasMore bool, err error)
	// refreshByIndex re-issues a URL for chunkIndex.
	refreshByIndex(ctx context.Context, chunkIndex int64, hint RefreshHint) (Descriptor, error)
}

type linkFetcherOptions struct {
	maxRetries int
	retryDelay time.Duration
	maxRows    int64
	maxBytes   int64
	logger     *slog.Logger
}

func defaultLinkFetcherOptions() linkFetcherOptions {
	return linkFetcherOptions{
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
		maxRows:    10000,
		maxBytes:   64 << 20,
	}
}

// LinkFetcherOption configures a LinkFetcher.
type LinkFetcherOption func(*linkFetcherOptions)

// WithLinkFetcherMaxRetries bounds how many times a single batch fetch is
// retried on a transient upstream error before giving up.
func WithLinkFetcherMaxRetries(n int) LinkFetcherOption {
	return func(o *linkFetcherOptions) { o.maxRetries = n }
}

// WithLinkFetcherRetryDelay sets the base delay for batch-fetch retries;
// actual delays follow retryDelay * (0.5, 1, 2, 4, ...).
func WithLinkFetcherRetryDelay(d time.Duration) LinkFetcherOption {
	return func(o *linkFetcherOptions) { o.retryDelay = d }
}

// WithLinkFetcherLogger attaches a structured logger.
func WithLinkFetcherLogger(l *slog.Logger) LinkFetcherOption {
	return func(o *linkFetcherOptions) { o.logger = l }
}

// WithLinkFetcherMaxRows bounds the row count requested per RPC-style
// FetchNext call.
func WithLinkFetcherMaxRows(n int64) LinkFetcherOption {
	return func(o *linkFetcherOptions) { o.maxRows = n }
}

// WithLinkFetcherMaxBytes bounds the byte count requested per RPC-style
// FetchNext call.
func WithLinkFetcherMaxBytes(n int64) LinkFetcherOption {
	return func(o *linkFetcherOptions) { o.maxBytes = n }
}

// LinkFetcher produces Descriptors in chunk-index order onto a pending
// Queue by repeatedly querying the upstream Session until it signals no
// more rows remain, and can refresh a single chunk's URL on demand. See
// NewRPCLinkFetcher and NewRESTLinkFetcher for the two wire-protocol
// variants.
type LinkFetcher struct {
	hooks        linkFetcherHooks
	pending      *Queue[Descriptor]
	initialLinks []LinkRecord
	logger       *slog.Logger
	maxRetries   int
	retryDelay   time.Duration

	refreshMu sync.Mutex

	mu             sync.Mutex
	started        bool
	stopped        bool
	hasMore        bool
	completed      bool
	nextChunkIndex int64
	lastErr        error
	cancel         context.CancelFunc
	done           chan struct{}
}

func newLinkFetcher(hooks linkFetcherHooks, pending *Queue[Descriptor], initial InitialResponse, o linkFetcherOptions) *LinkFetcher {
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LinkFetcher{
		hooks:        hooks,
		pending:      pending,
		initialLinks: initial.Links,
		logger:       logger.With("component", "linkfetcher"),
		maxRetries:   o.maxRetries,
		retryDelay:   o.retryDelay,
		hasMore:      initial.HasMoreRows,
		done:         make(chan struct{}),
	}
}

// Start begins background production of Descriptors onto the pending
// queue. It is an error to call Start more than once.
func (lf *LinkFetcher) Start(ctx context.Context) error {
	lf.mu.Lock()
	if lf.started {
		lf.mu.Unlock()
		return fmt.Errorf("%w: link fetcher already started", ErrInvalidState)
	}
	lf.started = true
	runCtx, cancel := context.WithCancel(ctx)
	lf.cancel = cancel
	lf.mu.Unlock()

	go lf.run(runCtx)
	return nil
}

func (lf *LinkFetcher) run(ctx context.Context) {
	defer close(lf.done)
	defer lf.pending.Close()

	err := lf.produce(ctx)
	err = cerrors.Squash(err, context.Canceled, context.DeadlineExceeded)

	lf.mu.Lock()
	lf.completed = true
	lf.hasMore = false
	lf.lastErr = err
	lf.mu.Unlock()
}

func (lf *LinkFetcher) produce(ctx context.Context) error {
	for _, rec := range lf.initialLinks {
		if err := lf.emit(ctx, rec); err != nil {
			return err
		}
	}
	for {
		lf.mu.Lock()
		hasMore := lf.hasMore
		lf.mu.Unlock()
		if !hasMore {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		links, more, err := lf.fetchWithRetry(ctx)
		if err != nil {
			return err
		}
		for _, rec := range links {
			if err := lf.emit(ctx, rec); err != nil {
				return err
			}
		}
		lf.mu.Lock()
		lf.hasMore = more
		lf.mu.Unlock()
	}
}

// fetchWithRetry retries a transient upstream batch-fetch failure with
// exponential backoff (retryDelay * 0.5, 1, 2, 4, ...) up to maxRetries
// times.
func (lf *LinkFetcher) fetchWithRetry(ctx context.Context) ([]LinkRecord, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= lf.maxRetries; attempt++ {
		if attempt > 0 {
			mult := 0.5 * math.Pow(2, float64(attempt-1))
			wait := time.Duration(float64(lf.retryDelay) * mult)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}
		links, more, err := lf.hooks.fetchNextBatch(ctx)
		if err == nil {
			return links, more, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, false, fmt.Errorf("%w: %v", ErrUpstreamFetchFailure, err)
		}
		lf.logger.Info("batch fetch failed, retrying", "attempt", attempt, "error", err)
	}
	return nil, false, fmt.Errorf("%w: exhausted %d retries: %v", ErrUpstreamFetchFailure, lf.maxRetries, lastErr)
}

func (lf *LinkFetcher) emit(ctx context.Context, rec LinkRecord) error {
	lf.mu.Lock()
	expected := lf.nextChunkIndex
	lf.mu.Unlock()
	if rec.ChunkIndex != expected {
		return fmt.Errorf("%w: expected chunk %d, server returned %d", ErrUpstreamFetchFailure, expected, rec.ChunkIndex)
	}

	d := Descriptor{
		ChunkIndex:          rec.ChunkIndex,
		RowOffset:           rec.RowOffset,
		RowCount:            rec.RowCount,
		CompressedByteCount: rec.ByteCount,
		URL:                 rec.URL,
		Headers:             rec.Headers,
		ExpiresAt:           rec.Expiration,
		State:               StatePending,
	}
	if err := lf.pending.Put(ctx, d); err != nil {
		return err
	}
	lf.mu.Lock()
	lf.nextChunkIndex++
	lf.mu.Unlock()
	return nil
}

// Refresh re-issues a URL for chunkIndex. Concurrent callers are
// serialized onto a single outgoing request at a time, rather than taking
// the production loop's own state lock, so a slow refresh never stalls
// production of further links.
func (lf *LinkFetcher) Refresh(ctx context.Context, chunkIndex int64, hint RefreshHint) (Descriptor, error) {
	lf.refreshMu.Lock()
	defer lf.refreshMu.Unlock()
	hint.ChunkIndex = chunkIndex
	return lf.hooks.refreshByIndex(ctx, chunkIndex, hint)
}

// Stop cancels background production and waits for it to exit. It is
// safe to call more than once, and safe to call without a prior Start.
func (lf *LinkFetcher) Stop() {
	lf.mu.Lock()
	if lf.stopped {
		lf.mu.Unlock()
		return
	}
	lf.stopped = true
	started := lf.started
	cancel := lf.cancel
	lf.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		<-lf.done
	}
}

// HasMore reports whether the Session has more rows to fetch.
func (lf *LinkFetcher) HasMore() bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.hasMore
}

// IsCompleted reports whether production has finished (successfully,
// with an error, or via cancellation).
func (lf *LinkFetcher) IsCompleted() bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.completed
}

// Err returns the error production ended with, or nil on a clean
// exhaustion or cancellation.
func (lf *LinkFetcher) Err() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	return lf.lastErr
}
