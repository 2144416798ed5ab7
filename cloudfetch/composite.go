package cloudfetch

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"
)

// Variant selects which wire protocol a CompositeReader's LinkFetcher
// speaks to the upstream Session.
type Variant int

const (
	// VariantRPC fetches chunk metadata and URLs together and refreshes
	// URLs approximately, by row offset.
	VariantRPC Variant = iota
	// VariantREST pages through an index-based chunk manifest and
	// refreshes URLs precisely, by chunk index.
	VariantREST
)

type compositeOptions struct {
	variant           Variant
	httpClient        *http.Client
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	logger            *slog.Logger
	downloaderOpts    []DownloaderOption
	linkFetcherOpts   []LinkFetcherOption
}

func defaultCompositeOptions() compositeOptions {
	return compositeOptions{
		variant:           VariantRPC,
		heartbeatInterval: 15 * time.Second,
		heartbeatTimeout:  10 * time.Second,
	}
}

// CompositeOption configures a CompositeReader.
type CompositeOption func(*compositeOptions)

// WithVariant selects the wire-protocol variant.
func WithVariant(v Variant) CompositeOption { return func(o *compositeOptions) { o.variant = v } }

// WithHTTPClient supplies the *http.Client used for chunk GETs.
func WithHTTPClient(c *http.Client) CompositeOption {
	return func(o *compositeOptions) { o.httpClient = c }
}

// WithHeartbeatInterval sets the base interval between operation-status
// polls for a long-running query; polling continues until end of stream,
// Close, or the server reports the operation done.
func WithHeartbeatInterval(d time.Duration) CompositeOption {
	return func(o *compositeOptions) { o.heartbeatInterval = d }
}

// WithHeartbeatTimeout bounds a single heartbeat GetStatus call.
func WithHeartbeatTimeout(d time.Duration) CompositeOption {
	return func(o *compositeOptions) { o.heartbeatTimeout = d }
}

// WithCompositeLogger attaches a structured logger.
func WithCompositeLogger(l *slog.Logger) CompositeOption {
	return func(o *compositeOptions) { o.logger = l }
}

// WithDownloaderOptions passes additional options through to the
// Downloader the CompositeReader constructs for the CloudFetch path.
func WithDownloaderOptions(opts ...DownloaderOption) CompositeOption {
	return func(o *compositeOptions) { o.downloaderOpts = append(o.downloaderOpts, opts...) }
}

// WithLinkFetcherOptions passes additional options through to the
// LinkFetcher the CompositeReader constructs for the CloudFetch path.
func WithLinkFetcherOptions(opts ...LinkFetcherOption) CompositeOption {
	return func(o *compositeOptions) { o.linkFetcherOpts = append(o.linkFetcherOpts, opts...) }
}

// CompositeReader routes between the CloudFetch path (external result
// links, bounded concurrent download, reordering) and the trivial inline
// path (batches already present in the query response), chosen once at
// construction from the initial response's shape, and drives the
// operation-status heartbeat for long-running queries.
type CompositeReader struct {
	session Session
	handle  OperationHandle
	manager *Manager
	cloud   *Reader
	inline  *inlineReader

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
	logger            *slog.Logger

	mu       sync.Mutex
	cancelHB context.CancelFunc
	hbDone   chan struct{}
}

// NewCompositeReader inspects initial and builds whichever reader path
// applies, starting the operation-status heartbeat when the query is
// marked long-running.
func NewCompositeReader(ctx context.Context, session Session, handle OperationHandle, initial InitialResponse, decoder BatchDecoder, cfg Config, opts ...CompositeOption) (*CompositeReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultCompositeOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cr := &CompositeReader{
		session:           session,
		handle:            handle,
		heartbeatInterval: o.heartbeatInterval,
		heartbeatTimeout:  o.heartbeatTimeout,
		logger:            o.logger.With("component", "compositereader"),
	}

	lz4 := cfg.LZ4Enabled && initial.IsLZ4Compressed
	if len(initial.Links) > 0 {
		pending := NewQueue[Descriptor](cfg.queueCapacity())
		budget := NewMemoryBudget(cfg.MemoryBufferSizeBytes)
		httpFetcher := NewHTTPFetcher(o.httpClient)

		linkOpts := append([]LinkFetcherOption{WithLinkFetcherLogger(o.logger)}, o.linkFetcherOpts...)
		var lf *LinkFetcher
		switch o.variant {
		case VariantREST:
			lf = NewRESTLinkFetcher(session, handle, initial, pending, linkOpts...)
		default:
			lf = NewRPCLinkFetcher(session, handle, initial, pending, linkOpts...)
		}

		downloaderOpts := append([]DownloaderOption{
			WithDownloaderConcurrency(cfg.ParallelDownloads),
			WithDownloaderTimeout(cfg.Timeout),
			WithDownloaderMaxRetries(cfg.MaxRetries),
			WithDownloaderRetryDelay(cfg.RetryDelay),
			WithDownloaderMaxURLRefreshAttempts(cfg.MaxURLRefreshAttempts),
			WithDownloaderURLExpirationBuffer(cfg.URLExpirationBuffer),
			WithDownloaderLogger(o.logger),
		}, o.downloaderOpts...)
		dl := NewDownloader(pending, budget, httpFetcher, lf, downloaderOpts...)

		mgr := NewManager(lf, dl, budget, pending)
		if err := mgr.Start(ctx); err != nil {
			return nil, err
		}
		cr.manager = mgr
		cr.cloud = NewReader(mgr, decoder, lz4)
	} else {
		cr.inline = newInlineReader(session, handle, initial, decoder, lz4)
	}

	if initial.IsLongRunning {
		cr.startHeartbeat(ctx)
	}
	return cr, nil
}

// Next returns the next record batch from whichever path was selected at
// construction, or io.EOF once the result set is exhausted.
func (cr *CompositeReader) Next(ctx context.Context) (RecordBatch, error) {
	var batch RecordBatch
	var err error
	if cr.cloud != nil {
		batch, err = cr.cloud.Next(ctx)
	} else {
		batch, err = cr.inline.Next(ctx)
	}
	if err == io.EOF {
		cr.stopHeartbeat()
	}
	return batch, err
}

// Close stops the heartbeat and the download pipeline (if any) and closes
// the server-side operation.
func (cr *CompositeReader) Close() error {
	cr.stopHeartbeat()
	if cr.manager != nil {
		cr.manager.Stop()
	}
	return cr.session.CloseOperation(context.Background(), cr.handle)
}

// Stats returns a snapshot of the CloudFetch download pipeline's activity
// counters; it is the zero Stats for the inline path.
func (cr *CompositeReader) Stats() Stats {
	if cr.manager == nil {
		return Stats{}
	}
	return cr.manager.Stats()
}

func (cr *CompositeReader) startHeartbeat(ctx context.Context) {
	hbCtx, cancel := context.WithCancel(ctx)
	cr.mu.Lock()
	cr.cancelHB = cancel
	cr.hbDone = make(chan struct{})
	cr.mu.Unlock()
	go cr.heartbeat(hbCtx)
}

// heartbeat polls Session.GetStatus at roughly heartbeatInterval, with up
// to 20% jitter, so a long-running query's connection doesn't look idle
// to intermediate proxies while no chunk is being fetched.
func (cr *CompositeReader) heartbeat(ctx context.Context) {
	defer close(cr.hbDone)
	for {
		jitter := time.Duration(rand.Int64N(int64(cr.heartbeatInterval)/5 + 1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(cr.heartbeatInterval + jitter):
		}

		hctx, cancel := context.WithTimeout(ctx, cr.heartbeatTimeout)
		status, err := cr.session.GetStatus(hctx, cr.handle)
		cancel()
		if err != nil {
			cr.logger.Warn("heartbeat failed", "error", err)
			continue
		}
		if status.Done {
			return
		}
	}
}

func (cr *CompositeReader) stopHeartbeat() {
	cr.mu.Lock()
	cancel := cr.cancelHB
	done := cr.hbDone
	cr.cancelHB = nil
	cr.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
