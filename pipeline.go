// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"context"
	"fmt"
	"runtime"

	"github.com/cosnicolaou/chronomerge/internal/blockstore"
	"github.com/cosnicolaou/chronomerge/internal/index"
)

// defaultBlockStoreCap is the default BlockStore capacity, ~256 MiB
// (§5 "BlockStore capacity; default ~256 MiB").
const defaultBlockStoreCap = 256 << 20

// Options configures a single pipeline run (§5 "Scheduling model").
type Options struct {
	// Mode selects the ingestion strategy; required.
	Mode Mode

	// Parser, Formatter and Filter are the plug-in contracts (§6).
	// Filter may be nil (NilFilter is used).
	Parser    RecordParser
	Formatter RecordFormatter
	Filter    Filter

	// Sink receives whole formatted records in final chronological
	// order.
	Sink Sink

	// NumParsers and NumFormatters default to runtime.NumCPU() when <=0
	// (§5 "N and M are configured (defaults ≈ logical-core count)").
	NumParsers    int
	NumFormatters int

	// BlockStoreCapacity bounds retained compressed bytes in
	// ModeStream/ModeCompressed; <=0 uses defaultBlockStoreCap. It is
	// unused in ModeFile, which never archives into the BlockStore.
	BlockStoreCapacity int64

	// BlockSize is the target block size before extending to the next
	// newline (§4.1); <=0 uses targetBlockSize.
	BlockSize int

	// Index is a previously-built persistent index (§4.1, §6). Run does
	// not consult it; blocks are pre-filtered only when the same index is
	// passed to NewFileReader or NewCompressedReader.
	Index *index.SourceFile

	// Progress, if non-nil, receives one Progress value per emitted
	// record; the pipeline never blocks indefinitely on a full,
	// unconsumed Progress channel beyond ctx's lifetime.
	Progress chan<- Progress

	// Verbose enables per-stage tracing via log.Printf, mirroring the
	// teacher's -verbose flag.
	Verbose bool
}

func (o *Options) numParsers() int {
	if o.NumParsers > 0 {
		return o.NumParsers
	}
	return runtime.NumCPU()
}

func (o *Options) numFormatters() int {
	if o.NumFormatters > 0 {
		return o.NumFormatters
	}
	return runtime.NumCPU()
}

func (o *Options) blockSize() int {
	if o.BlockSize > 0 {
		return o.BlockSize
	}
	return targetBlockSize
}

func (o *Options) blockStoreCap() int64 {
	if o.BlockStoreCapacity > 0 {
		return o.BlockStoreCapacity
	}
	return defaultBlockStoreCap
}

func (o *Options) filter() Filter {
	if o.Filter == nil {
		return NilFilter{}
	}
	return o.Filter
}

// Run drives a complete pipeline run over reader, blocking until the
// source is exhausted, ctx is cancelled, or a fatal error occurs (§4,
// §7). reader is closed before Run returns. Run is the library entry
// point the CLI's merge subcommand is built on; the index and inspect
// subcommands do not use it.
func Run(ctx context.Context, reader Reader, opts Options) (err error) {
	defer func() {
		if cerr := reader.Close(); err == nil {
			err = cerr
		}
	}()
	if opts.Parser == nil {
		return fmt.Errorf("chronomerge: Options.Parser is required")
	}
	if opts.Formatter == nil {
		return fmt.Errorf("chronomerge: Options.Formatter is required")
	}
	if opts.Sink == nil {
		return fmt.Errorf("chronomerge: Options.Sink is required")
	}

	n := opts.numParsers()
	m := opts.numFormatters()

	var store *blockstore.Store
	if opts.Mode != ModeFile {
		store, err = blockstore.New(opts.blockStoreCap())
		if err != nil {
			return fmt.Errorf("chronomerge: %w", err)
		}
		defer store.Close()
	}

	var shortcut *shortcutTracker
	if opts.Mode == ModeCompressed {
		shortcut = &shortcutTracker{}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Q1..Q4 per §5: Q1=2N, Q2=4N, Q3=4M, Q4=2M.
	q1 := newQueue[rawBlock](2 * n)
	q2 := newQueue[parserOutput](4 * n)
	q3 := newQueue[*Block](4 * m)
	q4 := newQueue[*FormattedBlock](2 * m)

	pCfg := &parserConfig{
		mode:     opts.Mode,
		parser:   opts.Parser,
		filter:   opts.filter(),
		store:    store,
		shortcut: shortcut,
		verbose:  opts.Verbose,
	}
	fCfg := &formatterConfig{
		formatter: opts.Formatter,
		store:     store,
		bufPool:   newBufferPool(),
		verbose:   opts.Verbose,
	}
	mCfg := &mergerConfig{
		sink:       opts.Sink,
		store:      store,
		progressCh: opts.Progress,
		verbose:    opts.Verbose,
	}

	// Lookahead margins bound how many generations/sequence numbers can
	// be in flight, uncommitted, between a stage's input queue and its
	// output queue at once - queue capacity either side of the worker
	// pool plus the pool size itself - so the pusher's and merger's
	// completeness gates can never be beaten by a block still in flight
	// (§4.3, §5 concurrency model).
	pusherLookahead := uint64(q1.cap() + n + q2.cap())
	mergerLookahead := uint64(q3.cap() + m + q4.cap())

	parserWG := runParsers(ctx, n, q1, q2, pCfg)
	go func() { parserWG.Wait(); q2.close() }()

	go runPusher(ctx, q2, q3, opts.filter(), pusherLookahead)

	formatterWG := runFormatters(ctx, m, q3, q4, fCfg)
	go func() { formatterWG.Wait(); q4.close() }()

	mergeErrCh := make(chan error, 1)
	go func() { mergeErrCh <- runMerger(ctx, q4, mCfg, mergerLookahead) }()

	readErrCh := make(chan error, 1)
	go func() { readErrCh <- readLoop(ctx, reader, q1) }()

	// Both the reader and the merger can independently observe a fatal
	// condition (a read error, or a ContractViolation in the merger); the
	// first one to do so cancels ctx so every stage unwinds rather than
	// blocking forever on a now-unconsumed queue.
	var mergeErr, readErr error
	var mergeDone, readDone bool
	for !mergeDone || !readDone {
		select {
		case mergeErr = <-mergeErrCh:
			mergeDone = true
			if mergeErr != nil {
				cancel()
			}
		case readErr = <-readErrCh:
			readDone = true
			if readErr != nil {
				cancel()
			}
		}
	}
	if mergeErr != nil {
		return mergeErr
	}
	if readErr != nil {
		return readErr
	}
	return ctx.Err()
}

// readLoop feeds raw blocks from reader into q1 until the source is
// exhausted, ctx is done, or a read error occurs. Corrupt/truncated
// reads are surfaced to the caller as a SourceIo-class error (§7); the
// reader itself decides what is fatal versus recoverable per mode.
func readLoop(ctx context.Context, reader Reader, q1 *queue[rawBlock]) error {
	defer q1.close()
	for {
		blk, ok, err := reader.Next(ctx)
		if err != nil {
			return fmt.Errorf("chronomerge: reader: %w", err)
		}
		if !ok {
			return nil
		}
		if !q1.push(ctx, blk) {
			return ctx.Err()
		}
	}
}
