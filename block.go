// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"fmt"

	"github.com/cosnicolaou/chronomerge/internal/blockstore"
)

// BlockHandle identifies archived block bytes inside a BlockStore; it is
// the zero value until the parser archives a block (§4.2, §4.6).
type BlockHandle = blockstore.Handle

// Block is a contiguous range of source bytes, delimited on line
// boundaries, the unit of pipeline flow (§3, GLOSSARY).
type Block struct {
	// Offset and Size locate the block within the logical source.
	Offset, Size int64

	// Generation is the monotonic sequence number minted by the reader
	// (the only place generation is minted, §4.1 "Ordering").
	Generation uint64

	// Sequence is assigned by the pusher at release time (§4.3): a
	// second, strictly increasing counter distinct from Generation that
	// records the pusher's actual release order (non-decreasing
	// timestamps.min, ties broken by ascending Generation). Unlike
	// Generation, which only reflects source read order, Sequence is
	// guaranteed by construction to correlate with non-decreasing
	// timestamps.min - the formatter and merger use it, not Generation,
	// to reconstruct that order across concurrent formatter workers.
	Sequence uint64

	// Bytes is the owning buffer while the block is live. It is nil once
	// a stream/compressed-mode block has been archived in the BlockStore
	// and only a handle retained.
	Bytes []byte

	// Records is the ordered sequence of parsed records once the parser
	// stage has run.
	Records []Record

	// Index is the compact per-block summary (§3 BlockIndex).
	Index BlockIndex

	// Handle refers to this block's bytes inside the BlockStore, set
	// only in stream/compressed modes after archiving (§4.2 "Archive
	// step").
	Handle BlockHandle
}

func (b *Block) String() string {
	if b == nil {
		return "<nil>"
	}
	return fmt.Sprintf("gen=%d off=%d size=%d records=%d flags=%#x ts=[%d,%d] present=%v sorted=%v",
		b.Generation, b.Offset, b.Size, len(b.Records), b.Index.Flags,
		b.Index.Timestamps.Min, b.Index.Timestamps.Max, b.Index.Timestamps.Present, b.Index.Sorted())
}

// HeadTimestamp returns the timestamp of the record at cursor, used by
// the pusher and merger heaps as the block's current sort key.
func (b *Block) HeadTimestamp(cursor int) int64 {
	return b.Records[cursor].Timestamp
}

// FormattedBlock is the output of the formatter stage (§4.4): an ordered
// block whose records have each been rendered into Buffer at the byte
// range given by the corresponding entry of Spans.
type FormattedBlock struct {
	Generation uint64
	Sequence   uint64
	Index      BlockIndex
	Buffer     []byte
	Spans      []Range

	// RecordTimestamps holds each record's timestamp, parallel to Spans,
	// so the merger can key its workspace heap without re-deriving them;
	// Cursor is the merger-private read position into Spans/Timestamps.
	RecordTimestamps []int64
	Cursor           int

	// Archived and Handle identify the BlockStore entry this formatted
	// block was rendered from, if any (stream/compressed modes only), so
	// the merger can Release it once every record has been emitted.
	Archived bool
	Handle   BlockHandle
}

// Len returns the number of surviving records in the formatted block.
func (fb *FormattedBlock) Len() int { return len(fb.Spans) }

// Done reports whether every record has been emitted.
func (fb *FormattedBlock) Done() bool { return fb.Cursor >= fb.Len() }

// HeadTimestamp returns the timestamp of the current cursor record.
func (fb *FormattedBlock) HeadTimestamp() int64 { return fb.RecordTimestamps[fb.Cursor] }

// HeadBytes returns the formatted bytes of the current cursor record.
func (fb *FormattedBlock) HeadBytes() []byte {
	sp := fb.Spans[fb.Cursor]
	return fb.Buffer[sp.Start:sp.End]
}

// Advance moves the cursor to the next record.
func (fb *FormattedBlock) Advance() { fb.Cursor++ }
