package cloudfetch

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestInlineReaderIteratesInitialBatches(t *testing.T) {
	initial := InitialResponse{
		InlineBatches: [][]byte{[]byte("batch-a"), []byte("batch-b")},
		HasMoreRows:   false,
	}
	r := newInlineReader(&fakeSession{}, "handle", initial, fakeDecoder{}, false)

	for _, want := range []string{"batch-a", "batch-b"} {
		got, err := r.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got.(string) != want {
			t.Fatalf("Next() = %q, want %q", got, want)
		}
	}
	if _, err := r.Next(context.Background()); err != io.EOF {
		t.Fatalf("Next() after batches exhausted = %v, want io.EOF", err)
	}
}

func TestInlineReaderFetchesMoreWhenHasMoreRows(t *testing.T) {
	var called bool
	session := &fakeSession{
		fetchNextFn: func(ctx context.Context, handle OperationHandle, maxRows, maxBytes int64) (FetchResponse, error) {
			called = true
			return FetchResponse{InlineBatches: [][]byte{[]byte("batch-c")}, HasMoreRows: false}, nil
		},
	}
	initial := InitialResponse{InlineBatches: [][]byte{[]byte("batch-a")}, HasMoreRows: true}
	r := newInlineReader(session, "handle", initial, fakeDecoder{}, false)

	first, err := r.Next(context.Background())
	if err != nil || first.(string) != "batch-a" {
		t.Fatalf("Next() = %v, %v, want batch-a, nil", first, err)
	}
	second, err := r.Next(context.Background())
	if err != nil || second.(string) != "batch-c" {
		t.Fatalf("Next() = %v, %v, want batch-c, nil", second, err)
	}
	if !called {
		t.Fatal("FetchNext was never called despite HasMoreRows=true")
	}
	if _, err := r.Next(context.Background()); err != io.EOF {
		t.Fatalf("Next() after fetched batch exhausted = %v, want io.EOF", err)
	}
}

func TestInlineReaderLZ4Decompression(t *testing.T) {
	plain := []byte("inline-lz4-payload")
	compressed := lz4Compress(t, plain)
	initial := InitialResponse{InlineBatches: [][]byte{compressed}}
	r := newInlineReader(&fakeSession{}, "handle", initial, fakeDecoder{}, true)

	got, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.(string) != string(plain) {
		t.Fatalf("Next() = %q, want %q", got, plain)
	}
}

func TestInlineReaderWrapsDecodeFailure(t *testing.T) {
	initial := InitialResponse{InlineBatches: [][]byte{[]byte("bad")}}
	decoder := fakeDecoder{failOn: map[string]bool{"bad": true}}
	r := newInlineReader(&fakeSession{}, "handle", initial, decoder, false)

	_, err := r.Next(context.Background())
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("Next() = %v, want *DecodeError", err)
	}
}
