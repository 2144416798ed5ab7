package cloudfetch

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers match against these with errors.Is. An
// error can match more than one (a *DecodeError for an LZ4 failure matches
// both ErrDecode and ErrDecompression), and a context cancellation or
// deadline is returned as the context's own error, not wrapped in one.
var (
	ErrTransientNetwork             = errors.New("cloudfetch: transient network error")
	ErrURLExpired                   = errors.New("cloudfetch: url expired")
	ErrUpstreamFetchFailure         = errors.New("cloudfetch: upstream fetch failed")
	ErrCancelled                    = errors.New("cloudfetch: cancelled")
	ErrDecompression                = errors.New("cloudfetch: lz4 decompression failed")
	ErrDecode                       = errors.New("cloudfetch: record batch decode failed")
	ErrBudgetExhaustedConfiguration = errors.New("cloudfetch: chunk exceeds memory budget capacity")
	ErrInvalidState                 = errors.New("cloudfetch: invalid state")
	ErrInvalidConfiguration         = errors.New("cloudfetch: invalid configuration")
	ErrRefreshMismatch              = errors.New("cloudfetch: refreshed chunk does not match the chunk requested")
	ErrForbidden                    = errors.New("cloudfetch: forbidden")
	ErrNotFound                     = errors.New("cloudfetch: not found")
	ErrShortRead                    = errors.New("cloudfetch: downloaded byte count does not match descriptor")
)

// wrapped pairs a sentinel kind with a cause, so that errors.Is matches
// either the kind or (transitively) the cause's own chain.
type wrapped struct {
	kind error
	msg  string
	err  error
}

func wrapf(kind error, err error, format string, args ...any) error {
	return &wrapped{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

func (w *wrapped) Error() string {
	if w.err != nil {
		return fmt.Sprintf("%s: %s: %v", w.kind, w.msg, w.err)
	}
	return fmt.Sprintf("%s: %s", w.kind, w.msg)
}

func (w *wrapped) Unwrap() []error {
	if w.err != nil {
		return []error{w.kind, w.err}
	}
	return []error{w.kind}
}

// DecodeError reports a failure turning a chunk's bytes into record
// batches, carrying enough context to tell the caller which chunk failed
// and whether LZ4 was in play.
type DecodeError struct {
	ChunkIndex int64
	LZ4        bool
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode chunk %d (lz4=%v): %v", e.ChunkIndex, e.LZ4, e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrDecode, e.Err} }

// retryClassifier lets a Session implementation mark an error as
// non-retryable (e.g. an authentication failure), mirroring the
// RetryResponse idiom used elsewhere for classifying upstream failures.
// Errors that don't implement it are treated as retryable by default.
type retryClassifier interface {
	IsRetryable() bool
}

func isRetryable(err error) bool {
	var rc retryClassifier
	if errors.As(err, &rc) {
		return rc.IsRetryable()
	}
	return true
}
