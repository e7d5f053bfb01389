// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func fbFromTimestamps(gen, seq uint64, timestamps ...int64) *FormattedBlock {
	var buf []byte
	spans := make([]Range, len(timestamps))
	for i, ts := range timestamps {
		line := []byte(strings_Sprintf(ts))
		start := len(buf)
		buf = append(buf, line...)
		buf = append(buf, '\n')
		spans[i] = Range{Start: start, End: len(buf) - 1}
	}
	min, max := timestamps[0], timestamps[0]
	for _, ts := range timestamps {
		if ts < min {
			min = ts
		}
		if ts > max {
			max = ts
		}
	}
	return &FormattedBlock{
		Generation:       gen,
		Sequence:         seq,
		Buffer:           buf,
		Spans:            spans,
		RecordTimestamps: timestamps,
		Index:            BlockIndex{Timestamps: Timestamps{Present: true, Min: min, Max: max}},
	}
}

func strings_Sprintf(ts int64) string {
	var b strings.Builder
	b.WriteString("ts=")
	b.WriteString(itoa(ts))
	return b.String()
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var digits []byte
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}

func TestMergerInterleavesTwoSortedBlocks(t *testing.T) {
	ctx := context.Background()
	in := newQueue[*FormattedBlock](4)
	var out bytes.Buffer
	cfg := &mergerConfig{sink: &out}

	in.push(ctx, fbFromTimestamps(1, 1, 10, 30, 50))
	in.push(ctx, fbFromTimestamps(2, 2, 20, 40, 60))
	in.close()

	if err := runMerger(ctx, in, cfg, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ts=10\nts=20\nts=30\nts=40\nts=50\nts=60\n"
	if got := out.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMergerTieBreaksByGeneration(t *testing.T) {
	ctx := context.Background()
	in := newQueue[*FormattedBlock](4)
	var out bytes.Buffer
	progress := make(chan Progress, 2)
	cfg := &mergerConfig{sink: &out, progressCh: progress}

	// Both blocks have a record at ts=10; generation 1 must win the tie.
	// Pushed to the merger's input queue in reverse of the order the
	// pusher actually released them (Sequence 1, then 2) to simulate a
	// formatter worker finishing gen 2 before gen 1 (§5 "arrival order is
	// arbitrary"); the sequence gate must still recover release order.
	in.push(ctx, fbFromTimestamps(2, 2, 10))
	in.push(ctx, fbFromTimestamps(1, 1, 10))
	in.close()

	if err := runMerger(ctx, in, cfg, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := out.String(), "ts=10\nts=10\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	// The two records render identically, so the emission order is read
	// from the per-record Progress values instead.
	if first, second := (<-progress).Generation, (<-progress).Generation; first != 1 || second != 2 {
		t.Fatalf("got emission order gen %d then gen %d, want gen 1 then gen 2", first, second)
	}
}

func TestMergerContractViolationOnWatermarkRegression(t *testing.T) {
	ctx := context.Background()
	in := newQueue[*FormattedBlock](4)
	var out bytes.Buffer
	cfg := &mergerConfig{sink: &out}

	in.push(ctx, fbFromTimestamps(1, 1, 50))
	in.push(ctx, fbFromTimestamps(2, 2, 10)) // arrives with min below the watermark gen 1 established
	in.close()

	err := runMerger(ctx, in, cfg, 0)
	if err == nil {
		t.Fatal("expected a contract violation error")
	}
	if !strings.Contains(err.Error(), "contract violation") {
		t.Fatalf("got %v, want a contract violation error", err)
	}
}
