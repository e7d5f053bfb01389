// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/cosnicolaou/chronomerge/internal/blockstore"
)

// bufferPool hands out formatted-record buffers from a sync.Pool (§4.4
// "Buffer reuse"), grounded on the teacher's reuse of blockDesc.block
// buffers in parallel.go's tryMergeBlocks. No stage calls put, so no
// buffer is ever returned to the pool: every block is rendered into a
// freshly allocated buffer and buffers are not reused across blocks.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{pool: sync.Pool{New: func() interface{} { return make([]byte, 0, targetBlockSize) }}}
}

func (p *bufferPool) get() []byte  { return p.pool.Get().([]byte)[:0] }
func (p *bufferPool) put(b []byte) { p.pool.Put(b) } //nolint:staticcheck

type formatterConfig struct {
	formatter RecordFormatter
	store     *blockstore.Store // nil in ModeFile
	bufPool   *bufferPool
	verbose   bool
}

func (c *formatterConfig) trace(format string, args ...interface{}) {
	if c.verbose {
		log.Printf(format, args...)
	}
}

// formatBlock renders every surviving record of blk into a pooled
// buffer, producing a FormattedBlock (§4.4). A per-record format
// failure drops that record and increments Invalid; it is not fatal
// (§4.4 "Failure").
func formatBlock(blk *Block, cfg *formatterConfig) (*FormattedBlock, error) {
	source := blk.Bytes
	var handle blockstore.Handle
	archived := blk.Bytes == nil
	if archived {
		bytes, err := cfg.store.Get(blk.Handle)
		if err != nil {
			return nil, err
		}
		source = bytes
		handle = blk.Handle
	}

	buf := cfg.bufPool.get()
	spans := make([]Range, 0, len(blk.Records))
	timestamps := make([]int64, 0, len(blk.Records))
	invalid := blk.Index.Lines.Invalid

	for _, rec := range blk.Records {
		line := source[rec.LineRange.Start:rec.LineRange.End]
		out, appended, ok := cfg.formatter.Format(rec, line, buf)
		if !ok {
			invalid++
			continue
		}
		buf = out
		spans = append(spans, appended)
		timestamps = append(timestamps, rec.Timestamp)
	}

	// The BlockStore entry is retained (not released here) when archived:
	// the bytes were only needed transiently to render records, but the
	// merger still owns a logical reference until every record has been
	// emitted, so ownership transfers to the FormattedBlock rather than
	// being dropped now.

	// blk.Records stays in source order regardless of Sorted (§3 "records
	// appear in the order they occur in source bytes"); the merger's
	// per-block cursor, however, assumes non-decreasing timestamps, so an
	// unsorted block's spans/timestamps are reordered here, once, before
	// the block is ever handed to the merger. Stable so records sharing a
	// timestamp keep their original in-block order, matching the
	// generation-then-position tie-break.
	if !blk.Index.Sorted() && len(spans) > 1 {
		order := make([]int, len(spans))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool {
			return timestamps[order[i]] < timestamps[order[j]]
		})
		sortedSpans := make([]Range, len(spans))
		sortedTimestamps := make([]int64, len(timestamps))
		for i, pos := range order {
			sortedSpans[i] = spans[pos]
			sortedTimestamps[i] = timestamps[pos]
		}
		spans = sortedSpans
		timestamps = sortedTimestamps
	}

	idx := blk.Index
	idx.Lines.Invalid = invalid
	idx.Lines.Valid = uint64(len(spans))

	return &FormattedBlock{
		Generation:       blk.Generation,
		Sequence:         blk.Sequence,
		Index:            idx,
		Buffer:           buf,
		Spans:            spans,
		RecordTimestamps: timestamps,
		Archived:         archived,
		Handle:           handle,
	}, nil
}

// runFormatters drives a pool of M formatter workers (§4.4, §5).
// Grounded on the same worker-pool pattern as the parser pool.
func runFormatters(ctx context.Context, n int, in *queue[*Block], out *queue[*FormattedBlock], cfg *formatterConfig) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for {
				blk, ok := in.pop(ctx)
				if !ok {
					return
				}
				fb, err := formatBlock(blk, cfg)
				if err != nil {
					cfg.trace("formatter: gen=%d: %v", blk.Generation, err)
					continue
				}
				if fb.Len() == 0 {
					continue
				}
				if !out.push(ctx, fb) {
					return
				}
			}
		}()
	}
	return &wg
}
