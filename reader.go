// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"context"
	"fmt"
)

// targetBlockSize is the default block size target before extending to
// the next newline (§4.1 "Block boundary rule").
const targetBlockSize = 1 << 20 // 1 MiB

// rawBlock is what a Reader hands to the parser pool: either the actual
// bytes (the stream and follow readers), or an (offset, size) descriptor
// the parser resolves on demand (the regular-file reader, via
// FileBytes), or compressed container bytes (compressed-file mode).
type rawBlock struct {
	Generation   uint64
	Offset, Size int64
	Bytes        []byte // populated directly (stream mode), or nil if FileBytes should be used
	FileBytes    func() ([]byte, error)
	Truncated    bool // true for the final block if source ended mid-line (discarded, counted invalid)
}

// Reader produces a totally-ordered stream of raw blocks from a
// configured source (§4.1). Generation is assigned strictly increasing
// by the reader and is the only place generation is minted.
type Reader interface {
	// Next returns the next raw block, or ok=false at end of source (err
	// is nil) or on error.
	Next(ctx context.Context) (blk rawBlock, ok bool, err error)
	// Close releases any resources (mmap, open file descriptors).
	Close() error
}

// lineSplitter finds a block boundary in buf no earlier than minSize,
// extending to the next newline so a block never splits a line (§4.1).
// It returns the length of the block to cut (including the trailing
// newline, if found) and whether a newline was found. If atEOF and no
// newline is found, the whole of buf is returned as a (possibly partial)
// final block; the caller is responsible for discarding a trailing
// partial line per §4.1.
func lineSplitter(buf []byte, minSize int, atEOF bool) (cut int, foundNewline bool) {
	if minSize > len(buf) {
		minSize = len(buf)
	}
	for i := minSize; i < len(buf); i++ {
		if buf[i] == '\n' {
			return i + 1, true
		}
	}
	if atEOF {
		return len(buf), false
	}
	return -1, false
}

// generationCounter mints strictly increasing generation numbers, the
// only place generation is minted (§4.1 "Ordering").
type generationCounter struct {
	next uint64
}

func (g *generationCounter) take() uint64 {
	g.next++
	return g.next
}

func newRawBlockError(mode string, err error) error {
	return fmt.Errorf("chronomerge: %s reader: %w", mode, err)
}
