// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

// splitLines splits buf into lines delimited by '\n'. The returned
// ranges exclude the trailing newline. lastHasNewline reports whether
// the final line was newline-terminated; if not (and the caller knows
// the source ended mid-line), that final range is a truncated partial
// line per §4.1 "that trailing partial line is discarded and counted as
// invalid".
func splitLines(buf []byte) (lines []Range, lastHasNewline bool) {
	start := 0
	for i := 0; i < len(buf); i++ {
		if buf[i] == '\n' {
			lines = append(lines, Range{Start: start, End: i})
			start = i + 1
		}
	}
	if start < len(buf) {
		lines = append(lines, Range{Start: start, End: len(buf)})
		return lines, false
	}
	return lines, true
}
