// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import "context"

// queue is a bounded, cancellation-aware channel wrapper used at every
// stage boundary of the pipeline (Q1..Q4 in §5). It generalizes the
// teacher's repeated
//
//	select {
//	case out <- block:
//	case <-ctx.Done():
//	}
//
// pattern from parallel.go's worker/assemble functions into a single
// reusable type so each stage doesn't hand-roll the same select twice.
type queue[T any] struct {
	ch chan T
}

// newQueue returns a queue with the given capacity. Capacity 0 behaves
// as an unbuffered rendezvous channel.
func newQueue[T any](capacity int) *queue[T] {
	return &queue[T]{ch: make(chan T, capacity)}
}

// push blocks until the item is accepted or ctx is done. It reports
// false if ctx was done before the item could be accepted. Pushing to a
// queue that has been closed panics, as a send on a closed channel does.
func (q *queue[T]) push(ctx context.Context, item T) bool {
	select {
	case q.ch <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

// pop blocks until an item is available, the queue is closed (ok=false),
// or ctx is done (ok=false).
func (q *queue[T]) pop(ctx context.Context) (item T, ok bool) {
	select {
	case item, ok = <-q.ch:
		return item, ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// close closes the queue. Only the sole producer of a queue may call
// this.
func (q *queue[T]) close() {
	close(q.ch)
}

// len reports the number of items currently buffered, for tracing only
// (mirrors the teacher's `len(out), cap(out)` trace calls).
func (q *queue[T]) len() int { return len(q.ch) }
func (q *queue[T]) cap() int { return cap(q.ch) }
