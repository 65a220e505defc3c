// Copyright 2024 The Fairsched Authors.
//
// Use of this software is governed by the Apache License, Version 2.0,
// included in the file LICENSE.

// Package ring provides a growable deque backed by a slice, used as the
// per-priority-class FIFO in pkg/fairsched. It is adapted from
// cockroachdb/cockroach's pkg/util/ring, generified over the element type
// since every caller in this module stores a single concrete pointer type.
package ring

// Buffer is a FIFO/deque maintained over a ring buffer. It is backed by a
// slice rather than a linked list, so pushing and popping never allocates
// once the backing array is large enough.
type Buffer[T any] struct {
	buffer []T
	head   int // index of the front element
	tail   int // index of the first free slot after the back element

	// nonEmpty distinguishes an empty buffer from one that is entirely full,
	// since in both cases head == tail.
	nonEmpty bool
}

// Len returns the number of elements in the Buffer.
func (r *Buffer[T]) Len() int {
	if !r.nonEmpty {
		return 0
	}
	if r.head < r.tail {
		return r.tail - r.head
	} else if r.head == r.tail {
		return cap(r.buffer)
	}
	return cap(r.buffer) + r.tail - r.head
}

// Empty reports whether the Buffer holds no elements.
func (r *Buffer[T]) Empty() bool {
	return !r.nonEmpty
}

// Front returns the element at the front of the Buffer without removing it.
func (r *Buffer[T]) Front() T {
	if !r.nonEmpty {
		panic("ring: Front on empty buffer")
	}
	return r.buffer[r.head]
}

func (r *Buffer[T]) grow(n int) {
	newBuffer := make([]T, n)
	if r.head < r.tail {
		copy(newBuffer[:r.Len()], r.buffer[r.head:r.tail])
	} else {
		copy(newBuffer[:cap(r.buffer)-r.head], r.buffer[r.head:])
		copy(newBuffer[cap(r.buffer)-r.head:r.Len()], r.buffer[:r.tail])
	}
	r.head = 0
	r.tail = cap(r.buffer)
	r.buffer = newBuffer
}

func (r *Buffer[T]) maybeGrow() {
	if r.Len() != cap(r.buffer) {
		return
	}
	n := 2 * cap(r.buffer)
	if n == 0 {
		n = 4
	}
	r.grow(n)
}

// PushBack appends an element to the back of the Buffer, doubling the
// underlying slice if necessary. This is the insertion point used by
// (*fairsched.FairQueue).Queue, preserving FIFO order within a class.
func (r *Buffer[T]) PushBack(v T) {
	r.maybeGrow()
	r.buffer[r.tail] = v
	r.tail = (r.tail + 1) % cap(r.buffer)
	r.nonEmpty = true
}

// PopFront removes and returns the element at the front of the Buffer.
func (r *Buffer[T]) PopFront() T {
	if !r.nonEmpty {
		panic("ring: PopFront on empty buffer")
	}
	var zero T
	v := r.buffer[r.head]
	r.buffer[r.head] = zero
	r.head = (r.head + 1) % cap(r.buffer)
	if r.head == r.tail {
		r.nonEmpty = false
	}
	return v
}
