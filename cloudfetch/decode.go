package cloudfetch

import (
	"bytes"
	"context"
	"io"

	"github.com/pierrec/lz4/v4"
)

// RecordBatch is one unit the external columnar-stream decoder yields.
// This package never looks inside it -- schema, column types, and
// encoding are entirely the decoder's concern.
type RecordBatch any

// RecordBatchSequence is a lazy, finite sequence of RecordBatch values.
// Next returns io.EOF once the sequence is exhausted.
type RecordBatchSequence interface {
	Next() (RecordBatch, error)
}

// BatchDecoder is the external columnar-stream-decoder collaborator: it
// turns a chunk's (already LZ4-decompressed, if applicable) bytes into
// record batches matching the schema the caller obtained out-of-band from
// the query's result metadata.
type BatchDecoder interface {
	Decode(ctx context.Context, data []byte) (RecordBatchSequence, error)
}

// decompressLZ4 decompresses an LZ4-framed chunk payload. Whether a chunk
// is LZ4-compressed is a single pipeline-wide toggle carried on the
// server's initial response (InitialResponse.IsLZ4Compressed), never
// decided per-chunk by sniffing bytes.
func decompressLZ4(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, wrapf(ErrDecompression, err, "lz4 decompress")
	}
	return out, nil
}
