// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"context"

	"github.com/cosnicolaou/chronomerge/internal/bitheap"
)

// pusher serializes the otherwise-unordered parser output into
// first-record-timestamp order (§4.3). It is a single serialization
// point, grounded on the teacher's Decompressor.assemble in
// parallel.go: a min-heap fed by one inbound channel, draining in heap
// order, generalized from "release only the next expected sequence
// number" to "release only once every lower generation has been
// accounted for" (§4.3's "all earlier blocks have been observed"),
// ordered by timestamps.min rather than by raw arrival sequence.
type pusher struct {
	filter Filter
	heap   *bitheap.Heap[*Block]

	// nextExpected is the lowest generation not yet accounted for
	// (observed as either a real block or a drop).
	nextExpected uint64
	aheadOfGen   map[uint64]bool // generations > nextExpected already observed

	// lookahead bounds how many generations beyond the heap's current
	// minimum must be accounted for before that minimum may be released
	// (see releasable). It must be at least as large as the number of
	// raw blocks that can be in flight between the reader and the
	// pusher at once - reader->parser queue capacity plus the parser
	// pool size plus parser->pusher queue capacity - so that concurrent
	// parser workers completing out of generation order can never beat
	// a block the pusher has already released.
	lookahead uint64

	nextSeq     uint64
	hasReleased bool
	lastMin     int64
}

func pusherLess(a, b *Block) bool {
	if a.Index.Timestamps.Min != b.Index.Timestamps.Min {
		return a.Index.Timestamps.Min < b.Index.Timestamps.Min
	}
	return a.Generation < b.Generation
}

func newPusher(filter Filter, lookahead uint64) *pusher {
	return &pusher{
		heap:         bitheap.New(pusherLess),
		filter:       filter,
		nextExpected: 1,
		aheadOfGen:   make(map[uint64]bool),
		lookahead:    lookahead,
		nextSeq:      1,
	}
}

// observe accounts for generation gen having been seen (as a real block
// or a drop) and advances nextExpected past any run of consecutive
// generations this completes.
func (p *pusher) observe(gen uint64) {
	if gen != p.nextExpected {
		p.aheadOfGen[gen] = true
		return
	}
	p.nextExpected++
	for p.aheadOfGen[p.nextExpected] {
		delete(p.aheadOfGen, p.nextExpected)
		p.nextExpected++
	}
}

// releasable reports whether the heap's current minimum may be released:
// not merely its own predecessors, but every generation up to and
// including lookahead generations past it, has already been accounted
// for. Requiring that margin - rather than just "this generation's own
// predecessors are observed" - is what makes the gate sound when parser
// workers complete out of generation order (§4.3, §5 concurrency model):
// a block released this way cannot be beaten by one of the lookahead
// generations still in flight, since those have already been observed.
func (p *pusher) releasable() bool {
	return p.heap.Len() > 0 && p.heap.Peek().Generation+p.lookahead < p.nextExpected
}

// runPusher reads parser output from in, applies the block-level filter,
// and releases surviving blocks to out in non-decreasing timestamps.min
// order with ties broken by ascending generation (§4.3). lookahead is
// the generation-completeness margin required before releasing a heap
// minimum (see releasable); pipeline.go derives it from the capacities
// of the queues either side of the parser pool plus the pool size.
func runPusher(ctx context.Context, in *queue[parserOutput], out *queue[*Block], filter Filter, lookahead uint64) {
	p := newPusher(filter, lookahead)
	for {
		item, ok := in.pop(ctx)
		if !ok {
			break
		}
		p.observe(item.Generation)
		if item.Block != nil && (filter == nil || filter.AcceptBlock(item.Block.Index)) {
			p.heap.Push(item.Block)
		}
		for p.releasable() {
			if !p.release(ctx, out) {
				return
			}
		}
	}
	// Reader (and parser pool) closed: every remaining block can now be
	// released in heap order (§4.3 condition (b)).
	for p.heap.Len() > 0 {
		if !p.release(ctx, out) {
			return
		}
	}
	out.close()
}

func (p *pusher) release(ctx context.Context, out *queue[*Block]) bool {
	blk := p.heap.Pop()
	if p.hasReleased && blk.Index.Timestamps.Min < p.lastMin {
		// The generation-completeness gate guarantees this cannot
		// happen for a source whose out-of-orderness stays within
		// lookahead generations; kept as a cheap ContractViolation
		// check per §7 for sources that exceed it.
		panic("chronomerge: pusher about to release out of order")
	}
	p.lastMin = blk.Index.Timestamps.Min
	p.hasReleased = true
	blk.Sequence = p.nextSeq
	p.nextSeq++
	return out.push(ctx, blk)
}
