package cloudfetch

import (
	"context"
	"fmt"
)

// rpcHooks implements the RPC-style protocol variant: each FetchNext call
// returns metadata and URLs together, and refresh is approximate -- it
// re-fetches starting at a row offset, which may return the requested
// chunk plus neighbors. Non-matching chunks in the response are
// discarded; if the requested chunk isn't present at all, that's a
// refresh mismatch and is reported as an error rather than silently
// substituting a neighboring chunk.
type rpcHooks struct {
	session  Session
	handle   OperationHandle
	maxRows  int64
	maxBytes int64
}

func (h *rpcHooks) fetchNextBatch(ctx context.Context) ([]LinkRecord, bool, error) {
	resp, err := h.session.FetchNext(ctx, h.handle, h.maxRows, h.maxBytes)
	if err != nil {
		return nil, false, err
	}
	return resp.Links, resp.HasMoreRows, nil
}

func (h *rpcHooks) refreshByIndex(ctx context.Context, chunkIndex int64, hint RefreshHint) (Descriptor, error) {
	resp, err := h.session.RefreshURLs(ctx, h.handle, RefreshHint{ChunkIndex: chunkIndex, StartRowOffset: hint.StartRowOffset})
	if err != nil {
		return Descriptor{}, err
	}
	for _, rec := range resp.Links {
		if rec.ChunkIndex != chunkIndex {
			continue
		}
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
	return Descriptor{}, fmt.Errorf("%w: chunk %d not present among %d link(s) in refresh response", ErrRefreshMismatch, chunkIndex, len(resp.Links))
}

// NewRPCLinkFetcher constructs a LinkFetcher for the RPC-style protocol
// variant, in which the upstream RPC carries chunk metadata and URLs
// together in a single response.
func NewRPCLinkFetcher(session Session, handle OperationHandle, initial InitialResponse, pending *Queue[Descriptor], opts ...LinkFetcherOption) *LinkFetcher {
	o := defaultLinkFetcherOptions()
	for _, opt := range opts {
		opt(&o)
	}
	hooks := &rpcHooks{session: session, handle: handle, maxRows: o.maxRows, maxBytes: o.maxBytes}
	return newLinkFetcher(hooks, pending, initial, o)
}
