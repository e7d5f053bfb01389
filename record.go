// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package chronomerge merges and emits log records from one or more log
// sources in strict chronological order. It supports regular files,
// non-seekable streams and compressed files as sources, and drives a
// staged, concurrent pipeline (reader, parsers, pusher, formatters,
// merger) to produce a single globally-ordered output stream.
package chronomerge

import "fmt"

// Level is the severity of a Record.
type Level uint8

const (
	LevelUnknown Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Bit returns the flag bit that represents this level in a BlockIndex's
// flags field, per the §6 schema. LevelUnknown has no bit.
func (l Level) Bit() uint64 {
	switch l {
	case LevelDebug:
		return FlagLevelDebug
	case LevelInfo:
		return FlagLevelInfo
	case LevelWarning:
		return FlagLevelWarning
	case LevelError:
		return FlagLevelError
	default:
		return 0
	}
}

// Record is a single parsed log entry. Records are immutable once
// parsed; LineRange indexes into the owning Block's byte buffer.
type Record struct {
	Timestamp    int64 // milliseconds since Unix epoch
	HasTimestamp bool  // false if the timestamp was inherited from a prior record
	Level        Level
	LineRange    Range

	// Generation and Position identify the record's block and its
	// in-block ordinal position; both are used as merge tie-breakers
	// (§4.5 "Tie-breaking").
	Generation uint64
	Position   int
}

// Range is a half-open byte range [Start, End).
type Range struct {
	Start, End int
}

// Len returns the number of bytes spanned by the range.
func (r Range) Len() int { return r.End - r.Start }

func (r Record) String() string {
	return fmt.Sprintf("gen=%d pos=%d ts=%d(%v) level=%v range=%v",
		r.Generation, r.Position, r.Timestamp, r.HasTimestamp, r.Level, r.LineRange)
}

// Lines tallies the number of lines a parser successfully turned into
// records (Valid) versus discarded because of a parse failure or a
// truncated trailing line (Invalid).
type Lines struct {
	Valid, Invalid uint64
}

// Timestamps summarizes the timestamp range observed in a block. When
// Present is false no surviving record carried a parseable timestamp and
// the block is admitted for all time windows (§3 BlockIndex).
type Timestamps struct {
	Present  bool
	Min, Max int64
}

// Flag bits for BlockIndex.Flags, per §6.
const (
	FlagLevelDebug   uint64 = 0x01
	FlagLevelInfo    uint64 = 0x02
	FlagLevelWarning uint64 = 0x04
	FlagLevelError   uint64 = 0x08
	FlagLevelMask    uint64 = 0xFF
	FlagSorted       uint64 = 0x100
	FlagBinary       uint64 = 0x8000_0000_0000_0000

	// flagKnownMask is the OR of every bit this implementation assigns a
	// meaning to, plus FlagBinary which is reserved but passed through.
	// Index readers reject frames with any other bit set (§6, §9b/c).
	flagKnownMask = FlagLevelMask | FlagSorted | FlagBinary
)

// BlockIndex is a compact, serializable summary of a block: which
// severities occur, line counts, and the timestamp range. See §3 and the
// persistent index schema in §6.
type BlockIndex struct {
	Flags      uint64
	Lines      Lines
	Timestamps Timestamps
}

// HasLevel reports whether lvl's bit is set in Flags.
func (bi BlockIndex) HasLevel(lvl Level) bool {
	bit := lvl.Bit()
	return bit != 0 && bi.Flags&bit != 0
}

// Sorted reports whether the FlagSorted bit is set.
func (bi BlockIndex) Sorted() bool {
	return bi.Flags&FlagSorted != 0
}

// SetSorted sets or clears FlagSorted.
func (bi *BlockIndex) SetSorted(v bool) {
	if v {
		bi.Flags |= FlagSorted
	} else {
		bi.Flags &^= FlagSorted
	}
}

// ValidFlags reports whether Flags contains only bits this schema
// version knows about (§6 "Readers MUST reject frames whose unknown flag
// bits are set outside the reserved ranges", §9b/c).
func (bi BlockIndex) ValidFlags() bool {
	return bi.Flags&^flagKnownMask == 0
}

// AddLevel ORs lvl's bit into Flags, a no-op for LevelUnknown.
func (bi *BlockIndex) AddLevel(lvl Level) {
	bi.Flags |= lvl.Bit()
}

// Merge folds another block's observations into bi as if the two blocks
// were concatenated: level flags are ORed, FlagSorted is cleared, line
// counts are summed and the timestamp range is widened.
func (bi *BlockIndex) Merge(other BlockIndex) {
	bi.Flags |= other.Flags & FlagLevelMask
	bi.Flags &^= FlagSorted // concatenation does not preserve sortedness in general
	bi.Lines.Valid += other.Lines.Valid
	bi.Lines.Invalid += other.Lines.Invalid
	if other.Timestamps.Present {
		if !bi.Timestamps.Present {
			bi.Timestamps = other.Timestamps
		} else {
			if other.Timestamps.Min < bi.Timestamps.Min {
				bi.Timestamps.Min = other.Timestamps.Min
			}
			if other.Timestamps.Max > bi.Timestamps.Max {
				bi.Timestamps.Max = other.Timestamps.Max
			}
		}
	}
}
