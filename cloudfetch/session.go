package cloudfetch

import (
	"context"
	"time"
)

// OperationHandle identifies a server-side query execution that a Session
// is tracking. It is opaque to this package.
type OperationHandle any

// LinkRecord is one server-declared chunk descriptor, as carried in an
// InitialResponse or FetchResponse, before this package turns it into a
// Descriptor.
type LinkRecord struct {
	ChunkIndex int64
	RowOffset  int64
	RowCount   int64
	ByteCount  int64
	URL        string
	Headers    map[string]string
	// Expiration is the zero time.Time when the server gave no expiry
	// hint for this URL.
	Expiration time.Time
}

// InitialResponse is what Session.Execute returns: either a set of result
// links (the CloudFetch path) or inline batches (the trivial path), never
// both.
type InitialResponse struct {
	Handle          OperationHandle
	Links           []LinkRecord
	InlineBatches   [][]byte
	HasMoreRows     bool
	IsLZ4Compressed bool
	IsLongRunning   bool
}

// FetchResponse is what Session.FetchNext, Session.GetResultChunks and
// Session.RefreshURLs return.
type FetchResponse struct {
	Links         []LinkRecord
	InlineBatches [][]byte
	HasMoreRows   bool
}

// RefreshHint tells the session which chunk to re-issue a URL for.
// A LinkFetcher from NewRPCLinkFetcher uses StartRowOffset (an
// approximate, offset-based re-fetch); one from NewRESTLinkFetcher uses
// ChunkIndex (a precise, index-based re-fetch).
type RefreshHint struct {
	ChunkIndex     int64
	StartRowOffset int64
}

// OperationStatus is returned by Session.GetStatus, polled by the
// operation-status heartbeat while a long-running query is in flight.
type OperationStatus struct {
	Done bool
	Err  error
}

// Session is the SQL client/session-layer collaborator: statement
// execution, authentication, and the session's own RPC retry policy all
// live on the other side of this interface and are out of scope here.
type Session interface {
	// Execute runs sql and returns its initial response, which may
	// already carry chunk links, inline batches, or both empty with
	// HasMoreRows true.
	Execute(ctx context.Context, sql string) (InitialResponse, error)
	// FetchNext advances the RPC-style protocol variant's cursor by at
	// most maxRows rows or maxBytes bytes, returning the next batch of
	// links or inline batches.
	FetchNext(ctx context.Context, handle OperationHandle, maxRows, maxBytes int64) (FetchResponse, error)
	// GetResultChunks advances the REST-style protocol variant's cursor,
	// returning chunk links starting at startIndex.
	GetResultChunks(ctx context.Context, handle OperationHandle, startIndex int64) (FetchResponse, error)
	// RefreshURLs re-issues a URL for the chunk identified by hint.
	RefreshURLs(ctx context.Context, handle OperationHandle, hint RefreshHint) (FetchResponse, error)
	// GetStatus reports whether the operation has finished; the heartbeat
	// polls it for long-running queries until end of stream or Close.
	GetStatus(ctx context.Context, handle OperationHandle) (OperationStatus, error)
	// CloseOperation releases any server-side resources held for handle.
	CloseOperation(ctx context.Context, handle OperationHandle) error
}
