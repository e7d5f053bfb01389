// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package textlog

import (
	"testing"

	"github.com/cosnicolaou/chronomerge"
)

func TestParserParsesTimestampedLine(t *testing.T) {
	ts, hasTS, level, ok := Parser{}.ParseLine([]byte("1700000000000000000 INFO server started"))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !hasTS || ts != 1700000000000000000 {
		t.Fatalf("got ts=%d hasTS=%v, want ts=1700000000000000000 hasTS=true", ts, hasTS)
	}
	if level != chronomerge.LevelInfo {
		t.Fatalf("got level %v, want Info", level)
	}
}

func TestParserAcceptsMissingTimestamp(t *testing.T) {
	_, hasTS, level, ok := Parser{}.ParseLine([]byte("- WARNING disk usage high"))
	if !ok {
		t.Fatal("expected ok=true for a line with a recognised level but no valid timestamp")
	}
	if hasTS {
		t.Fatal("expected hasTS=false")
	}
	if level != chronomerge.LevelWarning {
		t.Fatalf("got level %v, want Warning", level)
	}
}

func TestParserRejectsUnrecognisedLevel(t *testing.T) {
	_, _, _, ok := Parser{}.ParseLine([]byte("10 NOTALEVEL something"))
	if ok {
		t.Fatal("expected ok=false for an unrecognised level token")
	}
}

func TestParserRejectsLineWithNoSpaces(t *testing.T) {
	_, _, _, ok := Parser{}.ParseLine([]byte("garbage"))
	if ok {
		t.Fatal("expected ok=false for a line with no space-delimited fields")
	}
}

func TestFormatterReRendersOriginalLine(t *testing.T) {
	rec := chronomerge.Record{Timestamp: 10, Level: chronomerge.LevelError}
	line := []byte("10 ERROR disk full")
	buf, rng, ok := Formatter{}.Format(rec, line, nil)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got, want := string(buf[rng.Start:rng.End]), "10 ERROR disk full"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if buf[len(buf)-1] != '\n' {
		t.Fatal("expected Format to append a trailing newline to buf")
	}
}
