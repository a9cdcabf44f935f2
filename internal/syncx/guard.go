// Package syncx holds small generic synchronization helpers.
package syncx

import "sync"

// RWGuard is a value shared between one writer loop and many readers.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Get returns the current value. Readers must not mutate what it references.
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Swap replaces the value and returns the previous one.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// Update applies fn under the write lock and returns the new value.
func (g *RWGuard[T]) Update(fn func(T) T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = fn(g.value)
	return g.value
}

// CompareAndSet stores next only when pred accepts the current value.
func (g *RWGuard[T]) CompareAndSet(pred func(T) bool, next T) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !pred(g.value) {
		return false
	}
	g.value = next
	return true
}
