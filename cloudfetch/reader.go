package cloudfetch

import (
	"context"
	"io"
)

// Reader drains a Manager and emits decoded record batches,
// LZ4-decompressing each chunk's payload first when the pipeline is
// configured for it.
type Reader struct {
	manager    *Manager
	decoder    BatchDecoder
	lz4Enabled bool

	current          RecordBatchSequence
	currentChunk     int64
	currentByteCount int64
	err              error
}

// NewReader creates a Reader over manager, using decoder to turn each
// chunk's (optionally LZ4-decompressed) bytes into record batches.
func NewReader(manager *Manager, decoder BatchDecoder, lz4Enabled bool) *Reader {
	return &Reader{manager: manager, decoder: decoder, lz4Enabled: lz4Enabled}
}

// Next returns the next record batch, or io.EOF once the result set is
// exhausted. A chunk that failed to download carries no payload to decode;
// Next skips it and keeps draining, so the pipeline's real typed error
// (ErrURLExpired, ErrRefreshMismatch, ErrShortRead, ErrTransientNetwork,
// ...) surfaces unchanged once Manager.NextDownloaded reports the buffer
// exhausted. Decode and decompression failures are wrapped in a
// *DecodeError naming the failing chunk.
func (r *Reader) Next(ctx context.Context) (RecordBatch, error) {
	if r.err != nil {
		return nil, r.err
	}
	for {
		if r.current != nil {
			batch, err := r.current.Next()
			if err == nil {
				return batch, nil
			}
			if err != io.EOF {
				r.err = &DecodeError{ChunkIndex: r.currentChunk, LZ4: r.lz4Enabled, Err: err}
				return nil, r.err
			}
			r.manager.Release(r.currentByteCount)
			r.current = nil
		}

		desc, ok, err := r.manager.NextDownloaded(ctx)
		if err != nil {
			r.err = err
			return nil, err
		}
		if !ok {
			r.err = io.EOF
			return nil, io.EOF
		}
		if desc.State == StateFailed {
			// No payload to decode for a failed chunk, and its budget
			// reservation was already released by the downloader. The real
			// typed error (ErrURLExpired, ErrRefreshMismatch, ErrShortRead,
			// ...) surfaces unchanged on the next NextDownloaded call, once
			// the buffer is fully drained -- don't synthesize a generic one
			// here.
			continue
		}

		payload := desc.Payload
		if r.lz4Enabled {
			payload, err = decompressLZ4(payload)
			if err != nil {
				r.manager.Release(desc.CompressedByteCount)
				r.err = &DecodeError{ChunkIndex: desc.ChunkIndex, LZ4: true, Err: err}
				return nil, r.err
			}
		}
		seq, err := r.decoder.Decode(ctx, payload)
		if err != nil {
			r.manager.Release(desc.CompressedByteCount)
			r.err = &DecodeError{ChunkIndex: desc.ChunkIndex, LZ4: r.lz4Enabled, Err: err}
			return nil, r.err
		}
		r.current = seq
		r.currentChunk = desc.ChunkIndex
		r.currentByteCount = desc.CompressedByteCount
	}
}
