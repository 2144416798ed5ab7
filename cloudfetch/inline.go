package cloudfetch

import (
	"context"
	"io"
)

// inlineReader iterates the inline batches already present in the query's
// initial response, fetching further batches synchronously on demand --
// the trivial non-CloudFetch path taken when the server never hands back
// external result links.
type inlineReader struct {
	session    Session
	handle     OperationHandle
	decoder    BatchDecoder
	lz4Enabled bool

	batches [][]byte
	idx     int
	hasMore bool
	current RecordBatchSequence
}

func newInlineReader(session Session, handle OperationHandle, initial InitialResponse, decoder BatchDecoder, lz4Enabled bool) *inlineReader {
	return &inlineReader{
		session:    session,
		handle:     handle,
		decoder:    decoder,
		lz4Enabled: lz4Enabled,
		batches:    initial.InlineBatches,
		hasMore:    initial.HasMoreRows,
	}
}

func (r *inlineReader) Next(ctx context.Context) (RecordBatch, error) {
	for {
		if r.current != nil {
			batch, err := r.current.Next()
			if err == nil {
				return batch, nil
			}
			if err != io.EOF {
				return nil, &DecodeError{ChunkIndex: int64(r.idx - 1), LZ4: r.lz4Enabled, Err: err}
			}
			r.current = nil
		}

		if r.idx >= len(r.batches) {
			if !r.hasMore {
				return nil, io.EOF
			}
			resp, err := r.session.FetchNext(ctx, r.handle, 0, 0)
			if err != nil {
				return nil, err
			}
			r.batches = resp.InlineBatches
			r.hasMore = resp.HasMoreRows
			r.idx = 0
			if len(r.batches) == 0 {
				if !r.hasMore {
					return nil, io.EOF
				}
				continue
			}
		}

		raw := r.batches[r.idx]
		r.idx++
		payload := raw
		if r.lz4Enabled {
			var err error
			payload, err = decompressLZ4(raw)
			if err != nil {
				return nil, &DecodeError{ChunkIndex: int64(r.idx - 1), LZ4: true, Err: err}
			}
		}
		seq, err := r.decoder.Decode(ctx, payload)
		if err != nil {
			return nil, &DecodeError{ChunkIndex: int64(r.idx - 1), LZ4: r.lz4Enabled, Err: err}
		}
		r.current = seq
	}
}
