// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package textlog is a concrete, minimal RecordParser/RecordFormatter
// pair for a simple "<unix-millis> <LEVEL> <message>" line format. The
// core chronomerge package deliberately leaves the line format and
// timestamp grammar as an external collaborator (spec.md §1 "the
// concrete line format / timestamp grammar"); this package is the
// default one the CLI wires in, and a template for callers who need a
// different grammar.
package textlog

import (
	"bytes"
	"strconv"

	"github.com/cosnicolaou/chronomerge"
)

// Parser implements chronomerge.RecordParser for lines of the form
// "<unix-millis> <LEVEL> <message...>". A line with a malformed or
// missing timestamp field still parses successfully with hasTS=false,
// provided it has a recognised level token; a line that matches neither
// shape is rejected (ok=false).
type Parser struct{}

func (Parser) ParseLine(line []byte) (ts int64, hasTS bool, level chronomerge.Level, ok bool) {
	first := bytes.IndexByte(line, ' ')
	if first < 0 {
		return 0, false, chronomerge.LevelUnknown, false
	}
	rest := line[first+1:]
	second := bytes.IndexByte(rest, ' ')
	levelToken := rest
	if second >= 0 {
		levelToken = rest[:second]
	}
	level = parseLevel(levelToken)
	if level == chronomerge.LevelUnknown {
		return 0, false, chronomerge.LevelUnknown, false
	}
	n, err := strconv.ParseInt(string(line[:first]), 10, 64)
	if err != nil {
		return 0, false, level, true
	}
	return n, true, level, true
}

func parseLevel(tok []byte) chronomerge.Level {
	switch string(tok) {
	case "DEBUG":
		return chronomerge.LevelDebug
	case "INFO":
		return chronomerge.LevelInfo
	case "WARNING":
		return chronomerge.LevelWarning
	case "ERROR":
		return chronomerge.LevelError
	default:
		return chronomerge.LevelUnknown
	}
}

// Formatter implements chronomerge.RecordFormatter, re-rendering a
// record's original line unchanged (the identity formatter), which is
// sufficient since Parser's line format already matches the desired
// output shape. A caller wanting re-formatted output (redaction, a
// different timestamp grammar, added fields) would replace this with
// their own RecordFormatter.
type Formatter struct{}

func (Formatter) Format(rec chronomerge.Record, line []byte, buf []byte) ([]byte, chronomerge.Range, bool) {
	start := len(buf)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	return buf, chronomerge.Range{Start: start, End: len(buf) - 1}, true
}
