// Package buffer provides a bounded ring for caching recent agent traffic.
package buffer

import (
	"sync"
)

// Ring is a thread-safe circular buffer that keeps the most recent items up
// to a fixed capacity. When the ring is full, the oldest item is discarded
// to make room for the new one.
type Ring[T any] struct {
	items    []T
	start    int
	capacity int
	mu       sync.RWMutex
}

// NewRing creates a new Ring with the specified capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends item, discarding the oldest item when the ring is full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) < r.capacity {
		r.items = append(r.items, item)
		return
	}
	r.items[r.start] = item
	r.start = (r.start + 1) % r.capacity
}

// Items returns a copy of the items currently held, oldest first.
// The returned slice is safe to use without holding the lock.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.items) == 0 {
		return nil
	}
	result := make([]T, 0, len(r.items))
	result = append(result, r.items[r.start:]...)
	result = append(result, r.items[:r.start]...)
	return result
}

// Last returns up to n of the newest items, oldest first.
func (r *Ring[T]) Last(n int) []T {
	items := r.Items()
	if n > 0 && n < len(items) {
		return items[len(items)-n:]
	}
	return items
}

// Clear removes all items from the ring.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = r.items[:0]
	r.start = 0
}

// Len returns the current number of items in the ring.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}
