// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/cosnicolaou/chronomerge/internal/blockstore"
)

// Mode selects which of the three ingestion strategies a pipeline uses
// (§1).
type Mode int

const (
	ModeFile Mode = iota
	ModeStream
	ModeCompressed
)

func (m Mode) String() string {
	switch m {
	case ModeFile:
		return "file"
	case ModeStream:
		return "stream"
	case ModeCompressed:
		return "compressed"
	default:
		return "unknown"
	}
}

// shortcutTracker is shared by every parser worker in compressed mode so
// each can test the chronological shortcut of §4.2 ("if the block's
// timestamps.min is >= every previously-seen block's timestamps.max and
// sorted is set, the parser MAY forward the block directly"). It is the
// one piece of cross-worker state the parser pool needs beyond the
// BlockStore itself.
type shortcutTracker struct {
	mu      sync.Mutex
	hasMax  bool
	seenMax int64
}

// observe folds in this block's max and reports whether min was safely
// past every max previously observed (by any worker), making the block
// eligible for the shortcut.
func (t *shortcutTracker) observe(min, max int64, sorted bool) (eligible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	eligible = sorted && (!t.hasMax || min >= t.seenMax)
	if !t.hasMax || max > t.seenMax {
		t.seenMax = max
		t.hasMax = true
	}
	return eligible
}

// parserConfig bundles what every parser worker needs; it is built once
// per pipeline run and shared read-only across workers (§5 "Shared
// mutable state").
type parserConfig struct {
	mode     Mode
	parser   RecordParser
	filter   Filter
	store    *blockstore.Store // nil in ModeFile
	shortcut *shortcutTracker  // non-nil only in ModeCompressed
	verbose  bool
}

func (c *parserConfig) trace(format string, args ...interface{}) {
	if c.verbose {
		log.Printf(format, args...)
	}
}

// parseBlock turns a raw block into a parsed Block per §4.2. A nil
// Block with a nil error means the block was legitimately dropped (no
// surviving records, per "If no records survive, the block is dropped
// entirely"). A non-nil error for a structural failure (CorruptBlock) is
// also non-fatal - callers log it and continue (§7).
func parseBlock(ctx context.Context, raw rawBlock, cfg *parserConfig) (*Block, error) {
	var invalid uint64

	plain, err := resolveBytes(raw, cfg)
	if err != nil {
		return nil, fmt.Errorf("chronomerge: corrupt block gen=%d: %w", raw.Generation, err)
	}

	lineRanges, lastHasNewline := splitLines(plain)
	if raw.Truncated && !lastHasNewline && len(lineRanges) > 0 {
		lineRanges = lineRanges[:len(lineRanges)-1]
		invalid++
	}

	type candidate struct {
		ts    int64
		hasTS bool
		level Level
		rng   Range
	}
	candidates := make([]candidate, 0, len(lineRanges))
	for _, rng := range lineRanges {
		ts, hasTS, level, ok := cfg.parser.ParseLine(plain[rng.Start:rng.End])
		if !ok {
			invalid++
			continue
		}
		candidates = append(candidates, candidate{ts, hasTS, level, rng})
	}

	// Timestamp inheritance (§3 "may be absent -> record inherits
	// nearest prior record's timestamp within its block").
	var lastTS int64
	haveLast := false
	firstTimestamped := -1
	for i := range candidates {
		if candidates[i].hasTS {
			lastTS = candidates[i].ts
			haveLast = true
			if firstTimestamped < 0 {
				firstTimestamped = i
			}
		} else if haveLast {
			candidates[i].ts = lastTS
		}
	}
	// No prior record exists for timestamps preceding the first
	// timestamped one in the block; fall back to that first timestamp
	// rather than leaving them unordered (an implementation choice for
	// a case spec.md leaves unspecified, see DESIGN.md).
	if firstTimestamped > 0 {
		for i := 0; i < firstTimestamped; i++ {
			candidates[i].ts = candidates[firstTimestamped].ts
		}
	}

	skipRecordFilter := cfg.filter == nil
	if _, isNil := cfg.filter.(NilFilter); isNil {
		skipRecordFilter = true
	}

	records := make([]Record, 0, len(candidates))
	var idx BlockIndex
	for _, c := range candidates {
		rec := Record{
			Timestamp:    c.ts,
			HasTimestamp: c.hasTS,
			Level:        c.level,
			LineRange:    c.rng,
			Generation:   raw.Generation,
		}
		if !skipRecordFilter && !cfg.filter.AcceptRecord(rec) {
			continue
		}
		rec.Position = len(records)
		records = append(records, rec)
		idx.AddLevel(rec.Level)
		if rec.HasTimestamp {
			if !idx.Timestamps.Present {
				idx.Timestamps.Present = true
				idx.Timestamps.Min, idx.Timestamps.Max = rec.Timestamp, rec.Timestamp
			} else {
				if rec.Timestamp < idx.Timestamps.Min {
					idx.Timestamps.Min = rec.Timestamp
				}
				if rec.Timestamp > idx.Timestamps.Max {
					idx.Timestamps.Max = rec.Timestamp
				}
			}
		}
	}
	idx.Lines = Lines{Valid: uint64(len(records)), Invalid: invalid}
	idx.SetSorted(isSorted(records))

	if len(records) == 0 {
		cfg.trace("parser: gen=%d dropped, no surviving records", raw.Generation)
		return nil, nil
	}

	blk := &Block{
		Offset:     raw.Offset,
		Size:       raw.Size,
		Generation: raw.Generation,
		Records:    records,
		Index:      idx,
	}

	switch cfg.mode {
	case ModeFile:
		// Seekable: no archiving is ever needed, bytes are retained via
		// the reader's memory map for the run's duration.
		blk.Bytes = plain
	case ModeStream:
		if err := archive(ctx, blk, plain, cfg); err != nil {
			return nil, err
		}
	case ModeCompressed:
		eligible := cfg.shortcut.observe(idx.Timestamps.Min, idx.Timestamps.Max, idx.Sorted())
		if eligible {
			cfg.trace("parser: gen=%d took chronological shortcut", raw.Generation)
			blk.Bytes = plain
		} else if err := archive(ctx, blk, plain, cfg); err != nil {
			return nil, err
		}
	}
	return blk, nil
}

// archive performs the §4.2 "Archive step": copy surviving record bytes
// into a fresh contiguous buffer (re-ranging LineRange to match),
// compress it, and Put it into the BlockStore.
func archive(ctx context.Context, blk *Block, plain []byte, cfg *parserConfig) error {
	var buf []byte
	newRanges := make([]Range, len(blk.Records))
	for i, rec := range blk.Records {
		line := plain[rec.LineRange.Start:rec.LineRange.End]
		start := len(buf)
		buf = append(buf, line...)
		buf = append(buf, '\n')
		newRanges[i] = Range{Start: start, End: start + len(line)}
	}
	for i := range blk.Records {
		blk.Records[i].LineRange = newRanges[i]
	}
	handle, err := cfg.store.Put(ctx, blk.Generation, buf, blk.Index.Timestamps.Max, blk.Index.Timestamps.Present)
	if err != nil {
		return err
	}
	blk.Handle = handle
	blk.Bytes = nil
	return nil
}

func resolveBytes(raw rawBlock, cfg *parserConfig) ([]byte, error) {
	switch cfg.mode {
	case ModeFile:
		if raw.FileBytes == nil {
			return raw.Bytes, nil
		}
		return raw.FileBytes()
	case ModeStream:
		return raw.Bytes, nil
	case ModeCompressed:
		return cfg.store.DecompressRaw(raw.Bytes)
	default:
		return nil, fmt.Errorf("unknown mode %v", cfg.mode)
	}
}

func isSorted(records []Record) bool {
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp < records[i-1].Timestamp {
			return false
		}
	}
	return true
}

// parserOutput is what the parser pool hands the pusher for every raw
// block it consumes, whether or not that block survived parsing. Block
// is nil for a block dropped entirely (parse failure, or no surviving
// records per §4.2); the pusher still needs the bare Generation in that
// case to know that generation has been accounted for and will never
// arrive as a real block, so its generation-completeness gate (§4.3)
// isn't stalled waiting for something that was legitimately dropped.
type parserOutput struct {
	Generation uint64
	Block      *Block
}

// runParsers drives a pool of N parser workers pulling raw blocks from
// in and pushing parsed blocks to out, grounded on the teacher's
// Decompressor.worker pool in parallel.go (a fixed-size goroutine pool
// each pulling from one shared channel and pushing to another).
func runParsers(ctx context.Context, n int, in *queue[rawBlock], out *queue[parserOutput], cfg *parserConfig) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			for {
				raw, ok := in.pop(ctx)
				if !ok {
					return
				}
				blk, err := parseBlock(ctx, raw, cfg)
				if err != nil {
					cfg.trace("parser: %v", err)
				}
				if !out.push(ctx, parserOutput{Generation: raw.Generation, Block: blk}) {
					return
				}
			}
		}()
	}
	return &wg
}
