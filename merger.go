// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"context"
	"fmt"
	"log"

	"github.com/cosnicolaou/chronomerge/internal/bitheap"
	"github.com/cosnicolaou/chronomerge/internal/blockstore"
)

// Progress reports merger throughput for one emitted record's owning
// block transition, mirroring the teacher's Progress type in
// parallel.go (which reports one decompression-reassembly event per
// correctly-ordered block).
type Progress struct {
	Generation uint64
	Emitted    uint64
	Bytes      int
}

// mergerConfig bundles merger dependencies built once per run.
type mergerConfig struct {
	sink       Sink
	store      *blockstore.Store // nil in ModeFile
	progressCh chan<- Progress
	verbose    bool
}

func (c *mergerConfig) trace(format string, args ...interface{}) {
	if c.verbose {
		log.Printf(format, args...)
	}
}

var newline = []byte{'\n'}

func mergerLess(a, b *FormattedBlock) bool {
	ah, bh := a.HeadTimestamp(), b.HeadTimestamp()
	if ah != bh {
		return ah < bh
	}
	return a.Generation < b.Generation
}

// seqLess orders the merger's arrival gate by Sequence, the pusher's
// release-order counter (§4.3), which - unlike Generation - is
// guaranteed to correlate with non-decreasing timestamps.min. The gate
// uses this ordering, not arrival order at in, to decide when a block's
// timestamps.min can safely be trusted to advance watermark.
func seqLess(a, b *FormattedBlock) bool {
	return a.Sequence < b.Sequence
}

// runMerger implements §4.5: maintains the workspace heap and watermark,
// and writes to the sink whenever the admission test proves the next
// candidate record cannot be superseded by a later-arriving block.
// Grounded on the teacher's Decompressor.assemble reassembly loop in
// parallel.go, generalized from "pop when order==expected" to "pop when
// head.timestamp <= watermark".
//
// Formatter workers complete independently (§5 "Formatter → Merger:
// arrival order is arbitrary"), so a block the pusher released earlier
// can legitimately arrive here after one it released later. Trusting
// arrival order directly for the watermark would misdiagnose that
// ordinary concurrency as a ContractViolation, so arriving blocks first
// pass through a sequence-completeness gate (symmetric to the pusher's
// generation gate) keyed on Sequence; only once a block's turn in
// release order is certain does it advance the watermark and enter ws.
// lookahead bounds how many sequence numbers beyond the gate's minimum
// must be accounted for before that minimum may be trusted; pipeline.go
// derives it from the capacities of the queues either side of the
// formatter pool plus the pool size.
func runMerger(ctx context.Context, in *queue[*FormattedBlock], cfg *mergerConfig, lookahead uint64) error {
	ws := bitheap.New(mergerLess)
	gate := bitheap.New(seqLess)
	var (
		watermark       int64
		hasWatermark    bool
		emitted         uint64
		nextExpectedSeq uint64 = 1
		aheadOfSeq             = make(map[uint64]bool)
	)

	observeSeq := func(seq uint64) {
		if seq != nextExpectedSeq {
			aheadOfSeq[seq] = true
			return
		}
		nextExpectedSeq++
		for aheadOfSeq[nextExpectedSeq] {
			delete(aheadOfSeq, nextExpectedSeq)
			nextExpectedSeq++
		}
	}

	gateReleasable := func() bool {
		return gate.Len() > 0 && gate.Peek().Sequence+lookahead < nextExpectedSeq
	}

	admitToWorkspace := func(fb *FormattedBlock) error {
		if hasWatermark && fb.Index.Timestamps.Min < watermark {
			return fmt.Errorf("chronomerge: contract violation: block gen=%d arrived with timestamps.min=%d below watermark=%d",
				fb.Generation, fb.Index.Timestamps.Min, watermark)
		}
		watermark = maxInt64(watermark, fb.Index.Timestamps.Min)
		hasWatermark = true
		if cfg.store != nil {
			cfg.store.AdvanceWatermark(watermark)
		}
		ws.Push(fb)
		return nil
	}

	admit := func() bool {
		return ws.Len() > 0 && (!hasWatermark || ws.Peek().HeadTimestamp() <= watermark)
	}

	emitHead := func() error {
		fb := ws.Peek()
		rec := fb.HeadBytes()
		if _, err := cfg.sink.Write(rec); err != nil {
			return fmt.Errorf("chronomerge: sink write: %w", err)
		}
		// Format's appended Range excludes the line's trailing delimiter
		// (see textlog.Formatter), so the merger supplies it here: every
		// RecordFormatter implementation gets a uniform one-record-per-line
		// sink regardless of whether it bothered to include its own.
		if _, err := cfg.sink.Write(newline); err != nil {
			return fmt.Errorf("chronomerge: sink write: %w", err)
		}
		emitted++
		if cfg.progressCh != nil {
			select {
			case cfg.progressCh <- Progress{Generation: fb.Generation, Emitted: emitted, Bytes: len(rec)}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		fb.Advance()
		if fb.Done() {
			ws.Pop()
			if fb.Archived && cfg.store != nil {
				cfg.store.Release(fb.Handle)
			}
		} else {
			ws.Fix()
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if admit() {
			if err := emitHead(); err != nil {
				return err
			}
			continue
		}
		for gateReleasable() {
			if err := admitToWorkspace(gate.Pop()); err != nil {
				return err
			}
		}
		if admit() {
			continue
		}
		fb, ok := in.pop(ctx)
		if !ok {
			break
		}
		observeSeq(fb.Sequence)
		gate.Push(fb)
	}

	// Formatter pool (and pusher) closed: every remaining gate entry can
	// now be trusted in gate order, then ws drains unconditionally (§4.5
	// step 4).
	for gate.Len() > 0 {
		if err := admitToWorkspace(gate.Pop()); err != nil {
			return err
		}
	}
	for ws.Len() > 0 {
		if err := emitHead(); err != nil {
			return err
		}
	}
	return nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
