package cloudfetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCompositeReaderRoutesToInlineWhenNoLinks(t *testing.T) {
	var closed bool
	session := &fakeSession{
		closeOperationFn: func(ctx context.Context, handle OperationHandle) error {
			closed = true
			return nil
		},
	}
	initial := InitialResponse{InlineBatches: [][]byte{[]byte("only-batch")}}
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatal(err)
	}

	cr, err := NewCompositeReader(context.Background(), session, "handle", initial, fakeDecoder{}, cfg)
	if err != nil {
		t.Fatalf("NewCompositeReader: %v", err)
	}

	batch, err := cr.Next(context.Background())
	if err != nil || batch.(string) != "only-batch" {
		t.Fatalf("Next() = %v, %v, want only-batch, nil", batch, err)
	}
	if _, err := cr.Next(context.Background()); err != io.EOF {
		t.Fatalf("Next() after inline batches exhausted = %v, want io.EOF", err)
	}
	if got := cr.Stats(); got != (Stats{}) {
		t.Fatalf("Stats() on the inline path = %+v, want zero value", got)
	}

	if err := cr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !closed {
		t.Fatal("Close did not call Session.CloseOperation")
	}
}

func TestCompositeReaderRoutesToCloudFetchWhenLinksPresent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("cloud-chunk"))
	}))
	defer srv.Close()

	session := &fakeSession{
		closeOperationFn: func(ctx context.Context, handle OperationHandle) error { return nil },
	}
	initial := InitialResponse{Links: []LinkRecord{link(0, 0, 1, int64(len("cloud-chunk")), srv.URL)}}
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatal(err)
	}

	cr, err := NewCompositeReader(context.Background(), session, "handle", initial, fakeDecoder{}, cfg)
	if err != nil {
		t.Fatalf("NewCompositeReader: %v", err)
	}
	defer cr.Close()

	batch, err := cr.Next(context.Background())
	if err != nil || batch.(string) != "cloud-chunk" {
		t.Fatalf("Next() = %v, %v, want cloud-chunk, nil", batch, err)
	}
	if _, err := cr.Next(context.Background()); err != io.EOF {
		t.Fatalf("Next() after the only chunk = %v, want io.EOF", err)
	}

	stats := cr.Stats()
	if stats.ChunksDownloaded != 1 {
		t.Fatalf("Stats().ChunksDownloaded = %d, want 1", stats.ChunksDownloaded)
	}
}

func TestCompositeReaderHeartbeatStopsOnClose(t *testing.T) {
	var statusCalls int
	session := &fakeSession{
		closeOperationFn: func(ctx context.Context, handle OperationHandle) error { return nil },
		getStatusFn: func(ctx context.Context, handle OperationHandle) (OperationStatus, error) {
			statusCalls++
			return OperationStatus{Done: false}, nil
		},
	}
	initial := InitialResponse{InlineBatches: [][]byte{[]byte("x")}, IsLongRunning: true}
	cfg, err := ParseConfig(nil)
	if err != nil {
		t.Fatal(err)
	}

	cr, err := NewCompositeReader(context.Background(), session, "handle", initial, fakeDecoder{}, cfg,
		WithHeartbeatInterval(5*time.Millisecond), WithHeartbeatTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewCompositeReader: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		cr.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close never returned -- heartbeat goroutine likely leaked")
	}
}

func TestCompositeReaderRejectsInvalidConfig(t *testing.T) {
	session := &fakeSession{}
	initial := InitialResponse{InlineBatches: [][]byte{[]byte("x")}}
	_, err := NewCompositeReader(context.Background(), session, "handle", initial, fakeDecoder{}, Config{})
	if err == nil {
		t.Fatal("NewCompositeReader with a zero Config should reject it via Validate")
	}
}
