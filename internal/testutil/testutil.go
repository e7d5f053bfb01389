// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package testutil provides deterministic synthetic log data for package
// tests across this module, generalized from the teacher's fixed-seed
// random data generator (test_util.go's GenPredictableRandomData) so the
// same style of reproducible golden data is available for log lines
// instead of raw bytes.
package testutil

import (
	"fmt"
	"math/rand"
)

// fixedSeed must stay constant across runs so tests are reproducible.
const fixedSeed = 0x1234

// Line is one synthetic log record before rendering.
type Line struct {
	Timestamp int64
	Level     string
	Message   string
}

// GenSortedLines returns n lines with strictly increasing timestamps
// starting at start and spaced by intervalMillis, cycling through a fixed
// set of levels deterministically (fixedSeed).
func GenSortedLines(n int, start, intervalMillis int64) []Line {
	levels := []string{"DEBUG", "INFO", "WARNING", "ERROR"}
	gen := rand.New(rand.NewSource(fixedSeed))
	lines := make([]Line, n)
	for i := 0; i < n; i++ {
		lines[i] = Line{
			Timestamp: start + int64(i)*intervalMillis,
			Level:     levels[gen.Intn(len(levels))],
			Message:   fmt.Sprintf("message %d", i),
		}
	}
	return lines
}

// Render renders lines in the simple "<unix-millis> <LEVEL> <message>"
// text format used by this module's example RecordParser/RecordFormatter
// pair, newline-terminated.
func Render(lines []Line) []byte {
	var buf []byte
	for _, l := range lines {
		buf = append(buf, fmt.Sprintf("%d %s %s\n", l.Timestamp, l.Level, l.Message)...)
	}
	return buf
}

// FirstN returns at most the first n bytes of b, used by tests asserting
// on a truncated prefix of a larger buffer.
func FirstN(n int, b []byte) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
