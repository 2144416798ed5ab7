package cloudfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// HTTPFetcher performs a single GET against a pre-signed chunk URL under
// a per-request timeout, translating the outcome into the error kinds the
// rest of the pipeline matches on.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher wraps client for chunk downloads. A nil client gets a
// dedicated *http.Transport with HTTP/2 configured on it, tuned for many
// small concurrent GETs against cloud-storage endpoints.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxIdleConnsPerHost = 32
		_ = http2.ConfigureTransport(transport)
		client = &http.Client{Transport: transport}
	}
	return &HTTPFetcher{client: client}
}

// Get fetches url, returning its full body. headers are set verbatim on
// the outgoing request (pre-signed URLs frequently require none, but some
// storage backends need e.g. a range or SSE header).
func (f *HTTPFetcher) Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrUpstreamFetchFailure, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, wrapf(ErrTransientNetwork, err, "reading chunk body")
		}
		return body, nil
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: server returned %d", ErrTransientNetwork, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUpstreamFetchFailure, resp.StatusCode)
	}
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	// Unclassified transport failures (refused connections, DNS
	// failures, broken pipes) are treated as transient too: none of them
	// indicate a problem retrying can't possibly fix.
	return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
}
