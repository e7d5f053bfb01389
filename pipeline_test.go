// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"bytes"
	"context"
	"testing"
	"time"
)

// identityFormatter re-renders a record's original line unchanged, the
// same shape as textlog.Formatter, kept local to this package-internal
// test to avoid importing the textlog package (which imports this
// package).
type identityFormatter struct{}

func (identityFormatter) Format(rec Record, line []byte, buf []byte) ([]byte, Range, bool) {
	start := len(buf)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	return buf, Range{Start: start, End: len(buf) - 1}, true
}

func TestRunSortsRecordsAcrossBlocksInStreamMode(t *testing.T) {
	// Two blocks, [10,30] and [20,40], each internally sorted but globally
	// interleaved, so the pipeline must reorder across block boundaries.
	src := "10 INFO a\n30 INFO c\n20 INFO b\n40 INFO d\n"
	reader := NewStreamReader(bytes.NewReader([]byte(src)), 10) // forces multiple blocks

	var out bytes.Buffer
	opts := Options{
		Mode:          ModeStream,
		Parser:        testParser{},
		Formatter:     identityFormatter{},
		Sink:          &out,
		NumParsers:    2,
		NumFormatters: 2,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := Run(ctx, reader, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "10 INFO a\n20 INFO b\n30 INFO c\n40 INFO d\n"
	if got := out.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRunAppliesFilterAcrossPipeline(t *testing.T) {
	src := "10 DEBUG a\n20 INFO b\n30 ERROR c\n"
	reader := NewStreamReader(bytes.NewReader([]byte(src)), 1<<20)

	var out bytes.Buffer
	opts := Options{
		Mode:      ModeStream,
		Parser:    testParser{},
		Formatter: identityFormatter{},
		Filter:    LevelWindowFilter{LevelMask: FlagLevelInfo | FlagLevelError},
		Sink:      &out,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := Run(ctx, reader, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "20 INFO b\n30 ERROR c\n"
	if got := out.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRunRequiresParserFormatterAndSink(t *testing.T) {
	reader := NewStreamReader(bytes.NewReader(nil), 0)
	err := Run(context.Background(), reader, Options{})
	if err == nil {
		t.Fatal("expected an error when Parser/Formatter/Sink are unset")
	}
}
