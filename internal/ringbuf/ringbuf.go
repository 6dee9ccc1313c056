// Package ringbuf provides the bounded queue that hands samples from an OS
// audio callback to the processing goroutine.
package ringbuf

import "sync/atomic"

// Ring is a fixed-capacity single-producer/single-consumer queue.
//
// Push and Pop never block. Overflow policy is drop-newest: when the ring
// is full, Push stores the values that fit and the rest are discarded, so
// the caller can tell from the return value how much was lost.
//
// Exactly one goroutine may call Push and exactly one may call Pop.
type Ring[T any] struct {
	buf  []T
	size uint64

	head atomic.Uint64 // next read position, owned by the consumer
	tail atomic.Uint64 // next write position, owned by the producer
}

// New creates a ring holding at most capacity values.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Ring[T]{
		buf:  make([]T, capacity),
		size: uint64(capacity),
	}
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return int(r.size)
}

// Len returns the number of queued values. It is exact only when called
// from the producer or consumer while the other side is idle.
func (r *Ring[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	n := tail - head
	if n > r.size {
		n = r.size
	}
	return int(n)
}

// Free returns the number of values that can be pushed without dropping.
func (r *Ring[T]) Free() int {
	return r.Cap() - r.Len()
}

// Push appends as many values as fit and returns how many were stored.
func (r *Ring[T]) Push(vals []T) int {
	head := r.head.Load()
	tail := r.tail.Load()

	free := r.size - (tail - head)
	n := uint64(len(vals))
	if n > free {
		n = free
	}
	for i := uint64(0); i < n; i++ {
		r.buf[(tail+i)%r.size] = vals[i]
	}
	r.tail.Store(tail + n)
	return int(n)
}

// Pop moves up to len(dst) values into dst, oldest first, and returns the
// number moved.
func (r *Ring[T]) Pop(dst []T) int {
	tail := r.tail.Load()
	head := r.head.Load()

	n := tail - head
	if m := uint64(len(dst)); n > m {
		n = m
	}
	var zero T
	for i := uint64(0); i < n; i++ {
		idx := (head + i) % r.size
		dst[i] = r.buf[idx]
		r.buf[idx] = zero
	}
	r.head.Store(head + n)
	return int(n)
}

// Reset discards all queued values. It is a consumer-side operation: it
// only moves head, so it may run while the producer is pushing but not
// concurrently with Pop.
func (r *Ring[T]) Reset() {
	r.head.Store(r.tail.Load())
}
