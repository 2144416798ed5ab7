package cloudfetch

import (
	"context"
	"testing"
	"time"
)

func TestQueuePutTakeOrder(t *testing.T) {
	q := NewQueue[int](3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Put(ctx, i); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	if got := q.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	for i := 0; i < 3; i++ {
		v, ok, err := q.Take(ctx)
		if err != nil || !ok {
			t.Fatalf("Take() = %v, %v, %v", v, ok, err)
		}
		if v != i {
			t.Fatalf("Take() = %d, want %d (FIFO order)", v, i)
		}
	}
}

func TestQueuePutBlocksWhenFull(t *testing.T) {
	q := NewQueue[int](1)
	ctx := context.Background()
	if err := q.Put(ctx, 1); err != nil {
		t.Fatalf("Put(1): %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Put(ctx, 2) }()

	select {
	case <-done:
		t.Fatal("Put on a full queue returned before any value was taken")
	case <-time.After(50 * time.Millisecond):
	}

	if _, _, err := q.Take(ctx); err != nil {
		t.Fatalf("Take(): %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Put(2) after Take: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put never unblocked after Take freed capacity")
	}
}

func TestQueueCloseDrainsThenSignalsDone(t *testing.T) {
	q := NewQueue[string](2)
	ctx := context.Background()
	if err := q.Put(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := q.Put(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	q.Close()

	for _, want := range []string{"a", "b"} {
		v, ok, err := q.Take(ctx)
		if err != nil || !ok || v != want {
			t.Fatalf("Take() = %q, %v, %v, want %q, true, nil", v, ok, err, want)
		}
	}

	v, ok, err := q.Take(ctx)
	if err != nil || ok || v != "" {
		t.Fatalf("Take() after drain = %q, %v, %v, want zero value, false, nil", v, ok, err)
	}
}

func TestQueueCloseIdempotent(t *testing.T) {
	q := NewQueue[int](1)
	q.Close()
	q.Close() // must not panic
}

func TestQueueTakeContextCancelled(t *testing.T) {
	q := NewQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := q.Take(ctx)
	if ok || err == nil {
		t.Fatalf("Take() with a cancelled context = %v, %v, want ok=false and a non-nil error", ok, err)
	}
}

func TestQueueCapAndLen(t *testing.T) {
	q := NewQueue[int](5)
	if q.Cap() != 5 {
		t.Fatalf("Cap() = %d, want 5", q.Cap())
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}
