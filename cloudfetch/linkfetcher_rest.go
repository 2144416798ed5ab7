package cloudfetch

import (
	"context"
	"fmt"
)

// restHooks implements the REST-style protocol variant: an initial
// manifest gives a chunk count but no URLs, GetResultChunks(next) returns
// a batch of links and advances the cursor, and refresh is precise --
// GetResultChunks(index) for a single chunk returns exactly that chunk.
type restHooks struct {
	session   Session
	handle    OperationHandle
	nextIndex int64
}

func (h *restHooks) fetchNextBatch(ctx context.Context) ([]LinkRecord, bool, error) {
	resp, err := h.session.GetResultChunks(ctx, h.handle, h.nextIndex)
	if err != nil {
		return nil, false, err
	}
	h.nextIndex += int64(len(resp.Links))
	return resp.Links, resp.HasMoreRows, nil
}

func (h *restHooks) refreshByIndex(ctx context.Context, chunkIndex int64, hint RefreshHint) (Descriptor, error) {
	resp, err := h.session.RefreshURLs(ctx, h.handle, RefreshHint{ChunkIndex: chunkIndex})
	if err != nil {
		return Descriptor{}, err
	}
	if len(resp.Links) != 1 || resp.Links[0].ChunkIndex != chunkIndex {
		return Descriptor{}, fmt.Errorf("%w: expected exactly chunk %d, got %d link(s)", ErrRefreshMismatch, chunkIndex, len(resp.Links))
	}
	rec := resp.Links[0]
	return Descriptor{
		ChunkIndex:          rec.ChunkIndex,
		RowOffset:           rec.RowOffset,
		RowCount:            rec.RowCount,
		CompressedByteCount: rec.ByteCount,
		URL:                 rec.URL,
		Headers:             rec.Headers,
		ExpiresAt:           rec.Expiration,
		State:               StatePending,
	}, nil
}

// NewRESTLinkFetcher constructs a LinkFetcher for the REST-style protocol
// variant, in which result chunks are paged through an index-based
// manifest rather than returned inline with query metadata.
func NewRESTLinkFetcher(session Session, handle OperationHandle, initial InitialResponse, pending *Queue[Descriptor], opts ...LinkFetcherOption) *LinkFetcher {
	o := defaultLinkFetcherOptions()
	for _, opt := range opts {
		opt(&o)
	}
	hooks := &restHooks{session: session, handle: handle, nextIndex: int64(len(initial.Links))}
	return newLinkFetcher(hooks, pending, initial, o)
}
