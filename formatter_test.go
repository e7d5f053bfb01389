// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"bytes"
	"context"
	"testing"

	"github.com/cosnicolaou/chronomerge/internal/blockstore"
)

type upperFormatter struct{}

func (upperFormatter) Format(rec Record, line []byte, buf []byte) ([]byte, Range, bool) {
	if bytes.Contains(line, []byte("reject")) {
		return buf, Range{}, false
	}
	start := len(buf)
	buf = append(buf, bytes.ToUpper(line)...)
	buf = append(buf, '\n')
	return buf, Range{Start: start, End: len(buf) - 1}, true
}

func TestFormatBlockRendersSurvivingRecords(t *testing.T) {
	blk := &Block{
		Generation: 1,
		Bytes:      []byte("hello\nworld\n"),
		Records: []Record{
			{Timestamp: 10, LineRange: Range{Start: 0, End: 5}},
			{Timestamp: 20, LineRange: Range{Start: 6, End: 11}},
		},
		Index: BlockIndex{Lines: Lines{Valid: 2}},
	}
	cfg := &formatterConfig{formatter: upperFormatter{}, bufPool: newBufferPool()}
	fb, err := formatBlock(blk, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := fb.Len(), 2; got != want {
		t.Fatalf("got %v spans, want %v", got, want)
	}
	if got, want := string(fb.Buffer[fb.Spans[0].Start:fb.Spans[0].End]), "HELLO"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := string(fb.Buffer[fb.Spans[1].Start:fb.Spans[1].End]), "WORLD"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatBlockDropsFailedRecords(t *testing.T) {
	blk := &Block{
		Bytes: []byte("keep\nreject me\n"),
		Records: []Record{
			{Timestamp: 10, LineRange: Range{Start: 0, End: 4}},
			{Timestamp: 20, LineRange: Range{Start: 5, End: 15}},
		},
		Index: BlockIndex{Lines: Lines{Valid: 2}},
	}
	cfg := &formatterConfig{formatter: upperFormatter{}, bufPool: newBufferPool()}
	fb, err := formatBlock(blk, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := fb.Len(), 1; got != want {
		t.Fatalf("got %v surviving records, want %v", got, want)
	}
	if got, want := fb.Index.Lines.Invalid, uint64(1); got != want {
		t.Fatalf("got %v invalid, want %v", got, want)
	}
}

func TestFormatBlockReordersUnsortedRecordsByTimestamp(t *testing.T) {
	// Source order is 30, 10, 20; FlagSorted left clear (the default),
	// matching §3's "if flagSorted is set, records[i].timestamp <=
	// records[i+1].timestamp" - it is not set here, so nothing upstream
	// guarantees ascending order within the block.
	blk := &Block{
		Bytes: []byte("c30\na10\nb20\n"),
		Records: []Record{
			{Timestamp: 30, LineRange: Range{Start: 0, End: 3}},
			{Timestamp: 10, LineRange: Range{Start: 4, End: 7}},
			{Timestamp: 20, LineRange: Range{Start: 8, End: 11}},
		},
		Index: BlockIndex{Lines: Lines{Valid: 3}},
	}
	cfg := &formatterConfig{formatter: upperFormatter{}, bufPool: newBufferPool()}
	fb, err := formatBlock(blk, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{10, 20, 30}
	for i, ts := range want {
		if fb.RecordTimestamps[i] != ts {
			t.Fatalf("got timestamps %v, want ascending %v", fb.RecordTimestamps, want)
		}
	}
	wantLines := []string{"A10", "B20", "C30"}
	for i, line := range wantLines {
		if got := string(fb.Buffer[fb.Spans[i].Start:fb.Spans[i].End]); got != line {
			t.Fatalf("record %d: got %q, want %q", i, got, line)
		}
	}
}

func TestFormatBlockReadsFromArchivedHandle(t *testing.T) {
	store, err := blockstore.New(0)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	handle, err := store.Put(context.Background(), 1, []byte("archived line\n"), 10, true)
	if err != nil {
		t.Fatal(err)
	}
	blk := &Block{
		Handle: handle,
		Records: []Record{
			{Timestamp: 10, LineRange: Range{Start: 0, End: 13}},
		},
		Index: BlockIndex{Lines: Lines{Valid: 1}},
	}
	cfg := &formatterConfig{formatter: upperFormatter{}, bufPool: newBufferPool(), store: store}
	fb, err := formatBlock(blk, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fb.Archived {
		t.Fatal("expected FormattedBlock.Archived to be true")
	}
	if got, want := string(fb.Buffer[fb.Spans[0].Start:fb.Spans[0].End]), "ARCHIVED LINE"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
