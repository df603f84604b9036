// Package ring provides a fixed-capacity FIFO ring buffer used for prediction
// history, input buffering and snapshot history.
package ring

import (
	"iter"
	"sort"
)

// Ring is a fixed-capacity circular buffer. Pushing onto a full ring evicts the
// oldest element. Index 0 is the oldest element and index -1 the newest.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

// New allocates a ring holding at most capacity elements. Capacities below one
// are raised to one.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Len reports how many elements are stored.
func (r *Ring[T]) Len() int { return r.size }

// Cap reports the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Empty reports whether the ring holds nothing.
func (r *Ring[T]) Empty() bool { return r.size == 0 }

// Full reports whether the next push will evict.
func (r *Ring[T]) Full() bool { return r.size == len(r.buf) }

// PushBack appends v as the newest element. When the ring is full the oldest
// element is evicted and returned with evicted=true.
func (r *Ring[T]) PushBack(v T) (old T, evicted bool) {
	if r.size == len(r.buf) {
		old = r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return old, true
	}
	r.buf[r.physical(r.size)] = v
	r.size++
	return old, false
}

// PopFront removes and returns the oldest element.
func (r *Ring[T]) PopFront() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return v, true
}

// Front returns the oldest element.
func (r *Ring[T]) Front() (T, bool) { return r.At(0) }

// Back returns the newest element.
func (r *Ring[T]) Back() (T, bool) { return r.At(-1) }

// At returns the element at logical index i. Negative indices count back from
// the newest element. Out of range indices report false.
func (r *Ring[T]) At(i int) (T, bool) {
	var zero T
	idx, ok := r.normalize(i)
	if !ok {
		return zero, false
	}
	return r.buf[r.physical(idx)], true
}

// Set replaces the element at logical index i in place.
func (r *Ring[T]) Set(i int, v T) bool {
	idx, ok := r.normalize(i)
	if !ok {
		return false
	}
	r.buf[r.physical(idx)] = v
	return true
}

// FindFirst returns the oldest element matching pred.
func (r *Ring[T]) FindFirst(pred func(T) bool) (T, bool) {
	_, v, ok := r.FindFirstPair(pred)
	return v, ok
}

// FindLast returns the newest element matching pred.
func (r *Ring[T]) FindLast(pred func(T) bool) (T, bool) {
	_, v, ok := r.FindLastPair(pred)
	return v, ok
}

// FindFirstPair returns the logical index and value of the oldest match.
func (r *Ring[T]) FindFirstPair(pred func(T) bool) (int, T, bool) {
	for i := 0; i < r.size; i++ {
		v := r.buf[r.physical(i)]
		if pred(v) {
			return i, v, true
		}
	}
	var zero T
	return -1, zero, false
}

// FindLastPair returns the logical index and value of the newest match.
func (r *Ring[T]) FindLastPair(pred func(T) bool) (int, T, bool) {
	for i := r.size - 1; i >= 0; i-- {
		v := r.buf[r.physical(i)]
		if pred(v) {
			return i, v, true
		}
	}
	var zero T
	return -1, zero, false
}

// Sort reorders the stored elements with a stable sort, oldest slot first.
func (r *Ring[T]) Sort(less func(a, b T) bool) {
	if r.size < 2 {
		return
	}
	values := r.Values()
	sort.SliceStable(values, func(i, j int) bool { return less(values[i], values[j]) })
	r.head = 0
	copy(r.buf, values)
}

// Clear drops every element without reallocating.
func (r *Ring[T]) Clear() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.size = 0
}

// Values returns a copy of the elements in insertion order.
func (r *Ring[T]) Values() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[r.physical(i)]
	}
	return out
}

// All iterates over logical index and value pairs, oldest first.
func (r *Ring[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := 0; i < r.size; i++ {
			if !yield(i, r.buf[r.physical(i)]) {
				return
			}
		}
	}
}

func (r *Ring[T]) normalize(i int) (int, bool) {
	if i < 0 {
		i += r.size
	}
	if i < 0 || i >= r.size {
		return 0, false
	}
	return i, true
}

func (r *Ring[T]) physical(i int) int {
	return (r.head + i) % len(r.buf)
}
