package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestEnqueue_PreservesOrder(t *testing.T) {
	q := New(16, time.Second)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(ctx, []byte(fmt.Sprintf("frame-%d", i))); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	q.Close()

	i := 0
	for frame := range q.Frames() {
		want := fmt.Sprintf("frame-%d", i)
		if string(frame) != want {
			t.Fatalf("frame %d: got %q, want %q", i, frame, want)
		}
		i++
	}
	if i != 10 {
		t.Fatalf("expected 10 frames, got %d", i)
	}
}

func TestEnqueue_BackpressureWhenFull(t *testing.T) {
	q := New(1, 20*time.Millisecond)
	ctx := context.Background()

	if err := q.Enqueue(ctx, []byte("a")); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	err := q.Enqueue(ctx, []byte("b"))
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
}

func TestEnqueue_UnblocksWhenConsumerDrains(t *testing.T) {
	q := New(1, time.Second)
	ctx := context.Background()

	if err := q.Enqueue(ctx, []byte("a")); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-q.Frames()
	}()

	if err := q.Enqueue(ctx, []byte("b")); err != nil {
		t.Fatalf("expected blocked enqueue to succeed after drain, got %v", err)
	}
}

func TestEnqueue_ContextCancel(t *testing.T) {
	q := New(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	if err := q.Enqueue(ctx, []byte("a")); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := q.Enqueue(ctx, []byte("b")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClose_FlushesBufferedFrames(t *testing.T) {
	q := New(8, time.Second)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	q.Close()

	count := 0
	for range q.Frames() {
		count++
	}
	if count != 5 {
		t.Fatalf("expected 5 flushed frames, got %d", count)
	}
}

func TestClose_Idempotent(t *testing.T) {
	q := New(4, time.Second)
	q.Close()
	q.Close() // must not panic

	if err := q.Enqueue(context.Background(), []byte("x")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}
