// Package rolling provides a fixed-capacity FIFO used for score and sample history.
package rolling

// Buffer is a bounded FIFO. Appending to a full buffer evicts the oldest item.
// It is not safe for concurrent use; each buffer has exactly one owner.
type Buffer[T any] struct {
	data []T
	head int // index of the oldest item
	size int
}

// New creates an empty buffer holding at most maxSize items.
// A non-positive maxSize yields a buffer that never holds anything.
func New[T any](maxSize int) *Buffer[T] {
	return &Buffer[T]{data: make([]T, max(maxSize, 0))}
}

// NewFilled creates a buffer saturated with value.
func NewFilled[T any](value T, maxSize int) *Buffer[T] {
	b := New[T](maxSize)
	b.Fill(value)
	return b
}

// MaxSize returns the fixed capacity.
func (b *Buffer[T]) MaxSize() int { return len(b.data) }

// Len returns the number of items held.
func (b *Buffer[T]) Len() int { return b.size }

// Empty reports whether the buffer holds no items.
func (b *Buffer[T]) Empty() bool { return b.size == 0 }

// Full reports whether the buffer is at capacity.
func (b *Buffer[T]) Full() bool { return b.size == len(b.data) }

// Append adds v, evicting the oldest item when at capacity.
func (b *Buffer[T]) Append(v T) {
	if len(b.data) == 0 {
		return
	}
	if b.size == len(b.data) {
		b.data[b.head] = v
		b.head = (b.head + 1) % len(b.data)
		return
	}
	b.data[(b.head+b.size)%len(b.data)] = v
	b.size++
}

// AppendSlice evicts exactly enough of the oldest items to fit vs, then
// appends vs in order. When vs alone exceeds capacity only its newest
// MaxSize items are kept.
func (b *Buffer[T]) AppendSlice(vs []T) {
	if len(vs) >= len(b.data) {
		b.Clear()
		vs = vs[len(vs)-len(b.data):]
	} else if overflow := b.size + len(vs) - len(b.data); overflow > 0 {
		b.DropFront(overflow)
	}
	for _, v := range vs {
		b.Append(v)
	}
}

// DropFront removes up to n of the oldest items.
func (b *Buffer[T]) DropFront(n int) {
	n = min(max(n, 0), b.size)
	var zero T
	for i := 0; i < n; i++ {
		b.data[b.head] = zero
		b.head = (b.head + 1) % len(b.data)
	}
	b.size -= n
	if b.size == 0 {
		b.head = 0
	}
}

// Fill saturates the buffer to capacity with value.
func (b *Buffer[T]) Fill(value T) {
	for i := range b.data {
		b.data[i] = value
	}
	b.head = 0
	b.size = len(b.data)
}

// Clear removes all items.
func (b *Buffer[T]) Clear() {
	clear(b.data)
	b.head = 0
	b.size = 0
}

// At returns the i-th item counting from the oldest.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("rolling: index out of range")
	}
	return b.data[(b.head+i)%len(b.data)]
}

// Last returns the newest item, or the zero value when empty.
func (b *Buffer[T]) Last() (T, bool) {
	if b.size == 0 {
		var zero T
		return zero, false
	}
	return b.At(b.size - 1), true
}

// Items returns a copy of the contents, oldest first.
func (b *Buffer[T]) Items() []T {
	out := make([]T, b.size)
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// Count returns how many items satisfy pred.
func (b *Buffer[T]) Count(pred func(T) bool) int {
	n := 0
	for i := 0; i < b.size; i++ {
		if pred(b.At(i)) {
			n++
		}
	}
	return n
}

// Proportion returns the fraction of items satisfying pred, or 0 when empty.
func (b *Buffer[T]) Proportion(pred func(T) bool) float64 {
	if b.size == 0 {
		return 0
	}
	return float64(b.Count(pred)) / float64(b.size)
}
