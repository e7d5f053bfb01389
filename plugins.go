// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

// RecordParser is the pluggable contract a caller supplies to turn raw
// block bytes into records (§6 "Record parser (plug-in contract)"). The
// concrete line format / timestamp grammar is out of scope for this
// package; callers provide it here.
type RecordParser interface {
	// ParseLine parses a single line (without its trailing newline) and
	// reports the record's timestamp (if any), level, and whether
	// parsing succeeded. A false return contributes to Lines.Invalid and
	// the line is discarded.
	ParseLine(line []byte) (ts int64, hasTS bool, level Level, ok bool)
}

// RecordFormatter is the pluggable contract that renders a Record back
// into bytes (§6 "Record formatter (plug-in contract)").
type RecordFormatter interface {
	// Format appends the rendered record to buf and returns the
	// appended byte range. line is the original source bytes for the
	// record (LineRange into the owning block). A false ok return
	// contributes to Lines.Invalid and the record is discarded.
	Format(rec Record, line []byte, buf []byte) (out []byte, appended Range, ok bool)
}

// Filter is the pluggable contract combining level masks and timestamp
// windows (§6 "Filter (plug-in contract)").
type Filter interface {
	// AcceptBlock reports whether any record in a block with this index
	// could possibly pass. Used by the pusher's block-level filter and by
	// the regular-file and compressed-file readers for index-based
	// pre-filtering.
	AcceptBlock(idx BlockIndex) bool
	// AcceptRecord reports whether a single record passes the record
	// filter. A nil Filter (see NilFilter) accepts everything.
	AcceptRecord(rec Record) bool
}

// NilFilter accepts every block and record; it is the zero-cost
// "no record filter configured" case referenced by §4.2's fast path and
// §9's Open Question (a).
type NilFilter struct{}

func (NilFilter) AcceptBlock(BlockIndex) bool { return true }
func (NilFilter) AcceptRecord(Record) bool    { return true }

// LevelWindowFilter is a small, commonly-useful Filter implementation
// combining an allowed-level mask with an inclusive timestamp window.
// It is provided so the package is usable standalone; CLI-level filter
// expression parsing remains out of scope per §1.
type LevelWindowFilter struct {
	// LevelMask is an OR of FlagLevel* bits; zero means "all levels".
	LevelMask uint64
	// HasWindow, when true, restricts to [Since, Until].
	HasWindow    bool
	Since, Until int64
}

func (f LevelWindowFilter) AcceptBlock(idx BlockIndex) bool {
	if f.LevelMask != 0 && idx.Flags&f.LevelMask&FlagLevelMask == 0 {
		return false
	}
	if f.HasWindow && idx.Timestamps.Present {
		if idx.Timestamps.Max < f.Since || idx.Timestamps.Min > f.Until {
			return false
		}
	}
	return true
}

func (f LevelWindowFilter) AcceptRecord(rec Record) bool {
	if f.LevelMask != 0 {
		bit := rec.Level.Bit()
		if bit == 0 || f.LevelMask&bit == 0 {
			return false
		}
	}
	if f.HasWindow && (rec.Timestamp < f.Since || rec.Timestamp > f.Until) {
		return false
	}
	return true
}

// Sink is a byte writer; the merger guarantees writes are whole
// formatted records (§6 "Sink").
type Sink interface {
	Write(p []byte) (int, error)
}
