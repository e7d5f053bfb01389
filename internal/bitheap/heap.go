// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package bitheap provides a small generic ordered-heap used by both the
// pusher and the merger, factored out of the teacher's blockHeap in
// parallel.go (container/heap over *blockDesc keyed by .order) so the
// same plumbing serves two different keys: the pusher's
// (timestamps.min, generation) and the merger's (head timestamp,
// generation).
package bitheap

import "container/heap"

// Less reports whether a sorts before b.
type Less[T any] func(a, b T) bool

// Heap is a min-heap over items of type T ordered by a caller-supplied
// Less function.
type Heap[T any] struct {
	items []T
	less  Less[T]
}

// New returns an empty heap ordered by less.
func New[T any](less Less[T]) *Heap[T] {
	h := &Heap[T]{less: less}
	heap.Init((*innerHeap[T])(h))
	return h
}

// Len returns the number of items in the heap.
func (h *Heap[T]) Len() int { return len(h.items) }

// Push adds an item.
func (h *Heap[T]) Push(item T) {
	heap.Push((*innerHeap[T])(h), item)
}

// Pop removes and returns the minimum item.
func (h *Heap[T]) Pop() T {
	return heap.Pop((*innerHeap[T])(h)).(T)
}

// Peek returns the minimum item without removing it. Callers must check
// Len() > 0 first.
func (h *Heap[T]) Peek() T {
	return h.items[0]
}

// Fix re-establishes heap order after the item at the top has been
// mutated in place (e.g. a block's head record advanced).
func (h *Heap[T]) Fix() {
	heap.Fix((*innerHeap[T])(h), 0)
}

// innerHeap adapts Heap to container/heap.Interface without exposing
// Push/Pop's interface{} signature on the public type.
type innerHeap[T any] Heap[T]

func (h *innerHeap[T]) Len() int           { return len(h.items) }
func (h *innerHeap[T]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *innerHeap[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *innerHeap[T]) Push(x interface{}) {
	h.items = append(h.items, x.(T))
}

func (h *innerHeap[T]) Pop() interface{} {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}
