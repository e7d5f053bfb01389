// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"context"
	"testing"
)

func blockWithMinGen(min int64, gen uint64) *Block {
	return &Block{Generation: gen, Index: BlockIndex{Timestamps: Timestamps{Present: true, Min: min, Max: min}}}
}

func TestPusherReleasesInNonDecreasingOrder(t *testing.T) {
	ctx := context.Background()
	in := newQueue[parserOutput](10)
	out := newQueue[*Block](10)

	// Arrival order deliberately scrambles parser-worker completion order
	// (gen 2 completes before gen 1, as parser workers run concurrently),
	// while each generation's timestamps.min still increases with
	// generation, as it does for a correctly-ordered append-only source.
	// The pusher must withhold gen 2 until gen 1 has been observed.
	in.push(ctx, parserOutput{Generation: 2, Block: blockWithMinGen(20, 2)})
	in.push(ctx, parserOutput{Generation: 1, Block: blockWithMinGen(10, 1)})
	in.push(ctx, parserOutput{Generation: 3, Block: blockWithMinGen(30, 3)})
	in.close()

	go runPusher(ctx, in, out, nil, 0)

	var mins []int64
	for {
		blk, ok := out.pop(ctx)
		if !ok {
			break
		}
		mins = append(mins, blk.Index.Timestamps.Min)
	}
	want := []int64{10, 20, 30}
	if len(mins) != len(want) {
		t.Fatalf("got %v, want %v", mins, want)
	}
	for i := range want {
		if mins[i] != want[i] {
			t.Fatalf("got %v, want %v", mins, want)
		}
	}
}

func TestPusherDropsGenerationStillUnblocksGate(t *testing.T) {
	ctx := context.Background()
	in := newQueue[parserOutput](10)
	out := newQueue[*Block](10)

	// Generation 2 was dropped by the parser (no surviving records):
	// Block is nil, but the pusher must still count it as observed so
	// generation 3 can be released.
	in.push(ctx, parserOutput{Generation: 1, Block: blockWithMinGen(10, 1)})
	in.push(ctx, parserOutput{Generation: 2, Block: nil})
	in.push(ctx, parserOutput{Generation: 3, Block: blockWithMinGen(20, 3)})
	in.close()

	go runPusher(ctx, in, out, nil, 0)

	var mins []int64
	for {
		blk, ok := out.pop(ctx)
		if !ok {
			break
		}
		mins = append(mins, blk.Index.Timestamps.Min)
	}
	if len(mins) != 2 || mins[0] != 10 || mins[1] != 20 {
		t.Fatalf("got %v, want [10 20]", mins)
	}
}

func TestPusherAppliesBlockFilter(t *testing.T) {
	ctx := context.Background()
	in := newQueue[parserOutput](10)
	out := newQueue[*Block](10)

	filter := LevelWindowFilter{HasWindow: true, Since: 15, Until: 100}
	in.push(ctx, parserOutput{Generation: 1, Block: blockWithMinGen(10, 1)})
	in.push(ctx, parserOutput{Generation: 2, Block: blockWithMinGen(20, 2)})
	in.close()

	go runPusher(ctx, in, out, filter, 0)

	var mins []int64
	for {
		blk, ok := out.pop(ctx)
		if !ok {
			break
		}
		mins = append(mins, blk.Index.Timestamps.Min)
	}
	if len(mins) != 1 || mins[0] != 20 {
		t.Fatalf("got %v, want [20] (block with min=10, max=10 rejected by window starting at 15)", mins)
	}
}
