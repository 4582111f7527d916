// Package history keeps the most recent enriched records of a device in
// memory for late joining consumers.
package history

import (
	"fmt"
	"sync"
)

// DefaultCapacity is the number of records retained when no capacity is
// configured.
const DefaultCapacity = 100

// Ring is a fixed capacity, thread-safe buffer that overwrites its oldest
// entry when full. Readers always receive copies.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	start int // index of the oldest item
	size  int
}

// NewRing creates a ring holding up to capacity items.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid ring capacity: %d", capacity)
	}
	return &Ring[T]{items: make([]T, capacity)}, nil
}

// Push appends item, evicting the oldest item when the ring is full.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = item
		r.size++
		return
	}

	r.items[r.start] = item
	r.start = (r.start + 1) % len(r.items)
}

// Recent returns up to n of the newest items, oldest first. A non-positive n
// returns everything retained.
func (r *Ring[T]) Recent(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > r.size {
		n = r.size
	}

	out := make([]T, n)
	offset := r.size - n
	for i := range out {
		out[i] = r.items[(r.start+offset+i)%len(r.items)]
	}
	return out
}

// Len returns the number of items retained.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the capacity of the ring.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// Clear removes all items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.items)
	r.start = 0
	r.size = 0
}
