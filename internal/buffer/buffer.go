// Package buffer provides a thread-safe bounded ring queue.
// When full, the oldest entry is dropped so producers never block.
package buffer

import (
	"sync"
)

// Ring is a fixed-capacity FIFO queue. Push on a full ring evicts the
// oldest item instead of blocking or failing.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int
	count    int
	capacity int
}

// NewRing creates a ring with the given capacity. Capacity must be > 0.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends an item. Returns true if an older item was evicted to
// make room.
func (r *Ring[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.count) % r.capacity
	r.items[tail] = item
	if r.count == r.capacity {
		// Overwrote the oldest slot; advance head.
		r.head = (r.head + 1) % r.capacity
		return true
	}
	r.count++
	return false
}

// Pop removes and returns the oldest item. Returns the zero value and
// false when empty.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		var zero T
		return zero, false
	}
	item := r.items[r.head]
	var zero T
	r.items[r.head] = zero
	r.head = (r.head + 1) % r.capacity
	r.count--
	return item, true
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
