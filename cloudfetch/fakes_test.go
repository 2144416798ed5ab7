package cloudfetch

import (
	"context"
	"errors"
	"io"
)

// fakeSession is a configurable Session test double. Each method delegates
// to the corresponding function field; a nil field reports an error,
// surfacing a test's unconfigured-method mistakes immediately rather than
// panicking on a nil call. The one exception is CloseOperation, which
// succeeds when closeOperationFn is nil.
type fakeSession struct {
	executeFn         func(ctx context.Context, sql string) (InitialResponse, error)
	fetchNextFn       func(ctx context.Context, handle OperationHandle, maxRows, maxBytes int64) (FetchResponse, error)
	getResultChunksFn func(ctx context.Context, handle OperationHandle, startIndex int64) (FetchResponse, error)
	refreshURLsFn     func(ctx context.Context, handle OperationHandle, hint RefreshHint) (FetchResponse, error)
	getStatusFn       func(ctx context.Context, handle OperationHandle) (OperationStatus, error)
	closeOperationFn  func(ctx context.Context, handle OperationHandle) error
}

var errFakeNotConfigured = errors.New("fakeSession: method not configured for this test")

func (s *fakeSession) Execute(ctx context.Context, sql string) (InitialResponse, error) {
	if s.executeFn == nil {
		return InitialResponse{}, errFakeNotConfigured
	}
	return s.executeFn(ctx, sql)
}

func (s *fakeSession) FetchNext(ctx context.Context, handle OperationHandle, maxRows, maxBytes int64) (FetchResponse, error) {
	if s.fetchNextFn == nil {
		return FetchResponse{}, errFakeNotConfigured
	}
	return s.fetchNextFn(ctx, handle, maxRows, maxBytes)
}

func (s *fakeSession) GetResultChunks(ctx context.Context, handle OperationHandle, startIndex int64) (FetchResponse, error) {
	if s.getResultChunksFn == nil {
		return FetchResponse{}, errFakeNotConfigured
	}
	return s.getResultChunksFn(ctx, handle, startIndex)
}

func (s *fakeSession) RefreshURLs(ctx context.Context, handle OperationHandle, hint RefreshHint) (FetchResponse, error) {
	if s.refreshURLsFn == nil {
		return FetchResponse{}, errFakeNotConfigured
	}
	return s.refreshURLsFn(ctx, handle, hint)
}

func (s *fakeSession) GetStatus(ctx context.Context, handle OperationHandle) (OperationStatus, error) {
	if s.getStatusFn == nil {
		return OperationStatus{}, errFakeNotConfigured
	}
	return s.getStatusFn(ctx, handle)
}

func (s *fakeSession) CloseOperation(ctx context.Context, handle OperationHandle) error {
	if s.closeOperationFn == nil {
		return nil
	}
	return s.closeOperationFn(ctx, handle)
}

// fakeDecoder turns each chunk's bytes into a single-batch sequence
// carrying the bytes verbatim, so tests can assert on what a Reader or
// inlineReader actually decoded.
type fakeDecoder struct {
	failOn map[string]bool
}

func (d fakeDecoder) Decode(_ context.Context, data []byte) (RecordBatchSequence, error) {
	if d.failOn != nil && d.failOn[string(data)] {
		return nil, errors.New("fakeDecoder: configured to fail on this payload")
	}
	return &sliceSequence{items: []RecordBatch{string(data)}}, nil
}

// sliceSequence is a RecordBatchSequence over a fixed slice of batches.
type sliceSequence struct {
	items []RecordBatch
	idx   int
}

func (s *sliceSequence) Next() (RecordBatch, error) {
	if s.idx >= len(s.items) {
		return nil, io.EOF
	}
	v := s.items[s.idx]
	s.idx++
	return v, nil
}

func link(chunk, rowOffset, rowCount, byteCount int64, url string) LinkRecord {
	return LinkRecord{ChunkIndex: chunk, RowOffset: rowOffset, RowCount: rowCount, ByteCount: byteCount, URL: url}
}
