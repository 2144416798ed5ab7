package cloudfetch

import (
	"fmt"
	"time"
)

// ChunkState is the lifecycle state of a single chunk as it moves through
// the pipeline.
type ChunkState int

const (
	// StatePending means a chunk's link has been obtained but no download
	// has been attempted yet.
	StatePending ChunkState = iota
	// StateDownloading means a worker currently holds this chunk's memory
	// reservation and is fetching its bytes.
	StateDownloading
	// StateReady means the chunk downloaded successfully and is waiting to
	// be (or has just been) handed to the consumer in order.
	StateReady
	// StateFailed means the chunk could not be downloaded after
	// exhausting retries and/or URL refreshes; this is terminal.
	StateFailed
	// StateConsumed means the caller has read and released this chunk.
	StateConsumed
)

func (s ChunkState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDownloading:
		return "downloading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateConsumed:
		return "consumed"
	default:
		return fmt.Sprintf("chunkstate(%d)", int(s))
	}
}

// Descriptor describes one chunk of a query result set: where its bytes
// live, which rows it covers, and (once downloaded) the bytes themselves.
type Descriptor struct {
	ChunkIndex          int64
	RowOffset           int64
	RowCount            int64
	CompressedByteCount int64
	URL                 string
	Headers             map[string]string
	// ExpiresAt is the zero time.Time when the server gave no expiry
	// hint; HasExpiry reports whether it is set.
	ExpiresAt time.Time
	Payload   []byte
	State     ChunkState
}

// HasExpiry reports whether the server provided an expiry timestamp for
// this chunk's URL.
func (d *Descriptor) HasExpiry() bool { return !d.ExpiresAt.IsZero() }

// NearExpiry reports whether this chunk's URL is within buffer of its
// expiry (or already past it), as of now. It is always false when the
// server gave no expiry hint -- expiry is then discovered reactively, via
// an HTTP 403.
func (d *Descriptor) NearExpiry(buffer time.Duration, now time.Time) bool {
	return d.HasExpiry() && !now.Add(buffer).Before(d.ExpiresAt)
}

func (d Descriptor) String() string {
	return fmt.Sprintf("chunk[%d] rows=[%d,%d) bytes=%d state=%s",
		d.ChunkIndex, d.RowOffset, d.RowOffset+d.RowCount, d.CompressedByteCount, d.State)
}
