package audio

import "sync"

// DefaultQueueCapacity is the number of buffers the capture queue holds.
const DefaultQueueCapacity = 1024

// Queue is the bounded single-producer single-consumer hand-off between
// capture and detection. Neither side ever blocks on it.
type Queue struct {
	mu     sync.RWMutex
	ch     chan Buffer
	closed bool
}

// NewQueue creates a queue holding at most capacity buffers.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan Buffer, capacity)}
}

// TryEnqueue adds b without blocking. It returns false when the queue is
// full or closed; the caller decides what saturation means.
func (q *Queue) TryEnqueue(b Buffer) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- b:
		return true
	default:
		return false
	}
}

// TryDequeue removes the oldest buffer without blocking.
func (q *Queue) TryDequeue() (Buffer, bool) {
	select {
	case b, ok := <-q.ch:
		return b, ok
	default:
		return Buffer{}, false
	}
}

// Close marks the end of input. Buffers already queued stay readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Drained reports whether the queue is closed and empty.
func (q *Queue) Drained() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed && len(q.ch) == 0
}

// Len returns the number of queued buffers.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
