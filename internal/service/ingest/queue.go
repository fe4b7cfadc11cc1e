// Package ingest provides the bounded, ordered per-session audio frame queue
// sitting between the connection layer and the recognition stream.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Errors returned by Enqueue.
var (
	// ErrBackpressure signals that the queue stayed full for the whole
	// bounded wait. The caller should slow down and retry; frames are
	// never dropped silently.
	ErrBackpressure = errors.New("audio queue full: backpressure")
	// ErrQueueClosed signals that the session stopped accepting audio.
	ErrQueueClosed = errors.New("audio queue closed")
)

// Queue is a bounded FIFO buffer of raw audio frames. Frames are released
// to the consumer strictly in enqueue order; no frame is duplicated or
// reordered. Enqueue blocks briefly when the queue is full, then fails with
// ErrBackpressure. Closing the queue flushes buffered frames to the consumer
// before the Frames channel is closed.
type Queue struct {
	frames chan []byte
	wait   time.Duration

	mu     sync.RWMutex
	closed bool
}

// New creates a queue holding up to capacity frames. wait bounds how long an
// Enqueue on a full queue blocks before reporting backpressure.
func New(capacity int, wait time.Duration) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		frames: make(chan []byte, capacity),
		wait:   wait,
	}
}

// Enqueue accepts one audio frame. It returns immediately when the queue has
// room, blocks up to the configured wait when full, and returns
// ErrBackpressure when the wait expires. After Close it returns ErrQueueClosed.
func (q *Queue) Enqueue(ctx context.Context, frame []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.frames <- frame:
		return nil
	default:
	}

	timer := time.NewTimer(q.wait)
	defer timer.Stop()

	select {
	case q.frames <- frame:
		return nil
	case <-timer.C:
		return ErrBackpressure
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Frames returns the consumer side of the queue. The channel is closed after
// Close, once all buffered frames have been delivered.
func (q *Queue) Frames() <-chan []byte {
	return q.frames
}

// Len reports the number of buffered frames.
func (q *Queue) Len() int {
	return len(q.frames)
}

// Close stops accepting frames and closes the Frames channel. Buffered frames
// remain readable until drained. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.frames)
}
