package cloudfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cerrors "cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/net/ratecontrol"
	"cloudeng.io/sync/errgroup"
)

type downloaderOptions struct {
	concurrency           int
	timeout               time.Duration
	maxRetries            int
	retryDelay            time.Duration
	maxURLRefreshAttempts int
	urlExpirationBuffer   time.Duration
	limiter               ratecontrol.Limiter
	logger                *slog.Logger
}

func defaultDownloaderOptions() downloaderOptions {
	return downloaderOptions{
		concurrency:           3,
		timeout:               5 * time.Minute,
		maxRetries:            3,
		retryDelay:            500 * time.Millisecond,
		maxURLRefreshAttempts: 3,
		urlExpirationBuffer:   60 * time.Second,
	}
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*downloaderOptions)

// WithDownloaderConcurrency bounds the number of chunks downloaded at
// once.
func WithDownloaderConcurrency(n int) DownloaderOption {
	return func(o *downloaderOptions) { o.concurrency = n }
}

// WithDownloaderTimeout bounds a single chunk GET.
func WithDownloaderTimeout(d time.Duration) DownloaderOption {
	return func(o *downloaderOptions) { o.timeout = d }
}

// WithDownloaderMaxRetries bounds transient-network retries per chunk.
func WithDownloaderMaxRetries(n int) DownloaderOption {
	return func(o *downloaderOptions) { o.maxRetries = n }
}

// WithDownloaderRetryDelay sets the base delay for transient-network
// retries; actual delays are retryDelay * attempt (linear).
func WithDownloaderRetryDelay(d time.Duration) DownloaderOption {
	return func(o *downloaderOptions) { o.retryDelay = d }
}

// WithDownloaderMaxURLRefreshAttempts bounds how many times a single
// chunk's URL is refreshed before its download is abandoned.
func WithDownloaderMaxURLRefreshAttempts(n int) DownloaderOption {
	return func(o *downloaderOptions) { o.maxURLRefreshAttempts = n }
}

// WithDownloaderURLExpirationBuffer sets how far ahead of a known expiry
// time a chunk's URL is proactively refreshed.
func WithDownloaderURLExpirationBuffer(d time.Duration) DownloaderOption {
	return func(o *downloaderOptions) { o.urlExpirationBuffer = d }
}

// WithDownloaderRateLimiter attaches a request-pacing Limiter; by default
// downloads are unpaced.
func WithDownloaderRateLimiter(l ratecontrol.Limiter) DownloaderOption {
	return func(o *downloaderOptions) { o.limiter = l }
}

// WithDownloaderLogger attaches a structured logger.
func WithDownloaderLogger(l *slog.Logger) DownloaderOption {
	return func(o *downloaderOptions) { o.logger = l }
}

// Stats is a point-in-time snapshot of a Downloader's activity.
type Stats struct {
	ChunksDownloaded int64
	BytesDownloaded  int64
	Retries          int64
	Refreshes        int64
	Errors           int64
}

// Downloader converts the pending-descriptor queue produced by a
// LinkFetcher into a chunk-index-ordered stream of downloaded
// Descriptors, with bounded parallelism, a shared memory budget, and
// automatic URL refresh on both proactive (timestamp) and reactive
// (HTTP 403) expiry.
type Downloader struct {
	downloaderOptions
	pending *Queue[Descriptor]
	budget  *MemoryBudget
	fetcher *HTTPFetcher
	links   *LinkFetcher
	reorder *reorderBuffer
	logger  *slog.Logger

	chunksDownloaded atomic.Int64
	bytesDownloaded  atomic.Int64
	retries          atomic.Int64
	refreshes        atomic.Int64
	errorCount       atomic.Int64

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	runErr   error
	stopOnce sync.Once
}

// NewDownloader creates a Downloader. pending is drained by its worker
// pool; budget bounds the total bytes of in-flight and undelivered
// payload; fetcher performs the underlying HTTP GETs; links supplies URL
// refreshes for expiring chunks.
func NewDownloader(pending *Queue[Descriptor], budget *MemoryBudget, fetcher *HTTPFetcher, links *LinkFetcher, opts ...DownloaderOption) *Downloader {
	o := defaultDownloaderOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.limiter == nil {
		o.limiter = ratecontrol.New(ratecontrol.WithNoRateControl())
	}
	return &Downloader{
		downloaderOptions: o,
		pending:           pending,
		budget:            budget,
		fetcher:           fetcher,
		links:             links,
		reorder:           newReorderBuffer(),
		logger:            o.logger.With("component", "downloader"),
		done:              make(chan struct{}),
	}
}

// Start begins the bounded-concurrency worker pool. It is an error to
// call Start more than once.
func (d *Downloader) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("%w: downloader already started", ErrInvalidState)
	}
	d.started = true
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	go d.run(runCtx)
	return nil
}

func (d *Downloader) run(ctx context.Context) {
	defer close(d.done)

	ctx = ctxlog.WithLogger(ctx, d.logger)
	g, gctx := errgroup.WithContext(ctx)
	g = errgroup.WithConcurrency(g, d.concurrency)
	for i := 0; i < d.concurrency; i++ {
		g.Go(func() error { return d.worker(gctx) })
	}
	err := g.Wait()
	err = cerrors.Squash(err, context.Canceled, context.DeadlineExceeded)

	d.mu.Lock()
	d.runErr = err
	d.mu.Unlock()
	d.reorder.closeWithError(err)
}

func (d *Downloader) worker(ctx context.Context) error {
	for {
		desc, ok, err := d.pending.Take(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := d.handle(ctx, &desc); err != nil {
			desc.State = StateFailed
			d.reorder.publish(desc)
			d.errorCount.Add(1)
			ctxlog.Error(ctx, "chunk download failed", "chunk", desc.ChunkIndex, "error", err)
			return err
		}
		desc.State = StateReady
		d.chunksDownloaded.Add(1)
		d.bytesDownloaded.Add(desc.CompressedByteCount)
		d.reorder.publish(desc)
	}
}

// handle reserves memory, downloads desc's bytes (refreshing and
// retrying as needed), and verifies the byte count matches what the
// server declared. On any error the reservation is released here, since
// no consumer will ever see this descriptor to release it themselves.
func (d *Downloader) handle(ctx context.Context, desc *Descriptor) error {
	if err := d.budget.Reserve(ctx, desc.CompressedByteCount); err != nil {
		return err
	}
	desc.State = StateDownloading

	body, err := d.fetchWithRefreshAndRetry(ctx, desc)
	if err != nil {
		d.budget.Release(desc.CompressedByteCount)
		return err
	}
	if int64(len(body)) != desc.CompressedByteCount {
		d.budget.Release(desc.CompressedByteCount)
		return fmt.Errorf("%w: chunk %d: got %d bytes, expected %d", ErrShortRead, desc.ChunkIndex, len(body), desc.CompressedByteCount)
	}
	desc.Payload = body
	return nil
}

// fetchWithRefreshAndRetry implements the proactive/reactive URL-refresh
// and transient-retry state machine for a single chunk.
func (d *Downloader) fetchWithRefreshAndRetry(ctx context.Context, desc *Descriptor) ([]byte, error) {
	refreshCount := 0
	retryCount := 0
	for {
		if desc.NearExpiry(d.urlExpirationBuffer, time.Now()) {
			if err := d.refresh(ctx, desc, &refreshCount); err != nil {
				return nil, err
			}
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransientNetwork, err)
		}
		body, err := d.fetcher.Get(ctx, desc.URL, desc.Headers, d.timeout)
		if err == nil {
			d.limiter.BytesTransferred(len(body))
			return body, nil
		}

		switch {
		case errors.Is(err, ErrForbidden):
			if rerr := d.refresh(ctx, desc, &refreshCount); rerr != nil {
				return nil, rerr
			}
			continue
		case errors.Is(err, ErrTransientNetwork):
			retryCount++
			d.retries.Add(1)
			if retryCount > d.maxRetries {
				return nil, fmt.Errorf("%w: chunk %d: exhausted %d retries: %v", ErrTransientNetwork, desc.ChunkIndex, d.maxRetries, err)
			}
			wait := d.retryDelay * time.Duration(retryCount)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		default:
			return nil, err
		}
	}
}

func (d *Downloader) refresh(ctx context.Context, desc *Descriptor, count *int) error {
	*count++
	if *count > d.maxURLRefreshAttempts {
		return fmt.Errorf("%w: chunk %d: exhausted %d refresh attempts", ErrURLExpired, desc.ChunkIndex, d.maxURLRefreshAttempts)
	}
	refreshed, err := d.links.Refresh(ctx, desc.ChunkIndex, RefreshHint{StartRowOffset: desc.RowOffset})
	if err != nil {
		return fmt.Errorf("%w: chunk %d: refresh failed: %v", ErrURLExpired, desc.ChunkIndex, err)
	}
	if refreshed.ChunkIndex != desc.ChunkIndex || refreshed.RowOffset != desc.RowOffset {
		return fmt.Errorf("%w: chunk %d", ErrRefreshMismatch, desc.ChunkIndex)
	}
	d.refreshes.Add(1)
	desc.URL = refreshed.URL
	desc.Headers = refreshed.Headers
	desc.ExpiresAt = refreshed.ExpiresAt
	ctxlog.Info(ctx, "refreshed chunk url", "chunk", desc.ChunkIndex, "attempt", *count)
	return nil
}

// NextReady returns the next chunk, in strict chunk-index order, or
// ok=false once downloading has finished.
func (d *Downloader) NextReady(ctx context.Context) (Descriptor, bool, error) {
	return d.reorder.next(ctx)
}

// Err returns the error the worker pool ended with, or nil on a clean
// exhaustion or cancellation.
func (d *Downloader) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runErr
}

// Stats returns a snapshot of this Downloader's activity counters.
func (d *Downloader) Stats() Stats {
	return Stats{
		ChunksDownloaded: d.chunksDownloaded.Load(),
		BytesDownloaded:  d.bytesDownloaded.Load(),
		Retries:          d.retries.Load(),
		Refreshes:        d.refreshes.Load(),
		Errors:           d.errorCount.Load(),
	}
}

// Stop cancels the worker pool, waits for it to exit, and releases the
// memory reservations of any fully-downloaded chunks that were never
// delivered to a consumer. Safe to call more than once, and without a
// prior Start.
func (d *Downloader) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		cancel := d.cancel
		started := d.started
		d.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if started {
			<-d.done
		}
		d.reorder.drainAndRelease(d.budget)
	})
}
