// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import "context"

// multiReader round-robins across several independent Readers, minting
// a single, strictly increasing generation sequence across all of them
// (§4.1 "Generation is the only place generation is minted" still holds
// - multiReader is itself the one Reader the pipeline sees). This is how
// multiple concurrent sources (SPEC_FULL.md §C) are merged: the
// pipeline's ordering is keyed by record timestamp, not by generation,
// so interleaving unrelated sources' blocks in arbitrary round-robin
// order is safe as long as each source's own blocks are still handed out
// in that source's original order, which round-robin preserves.
type multiReader struct {
	readers []Reader
	next    int
	gen     generationCounter
	done    []bool
	left    int
}

// NewMultiReader combines several Readers into one. Each is closed when
// it is exhausted or when the combined reader is closed early.
func NewMultiReader(readers ...Reader) Reader {
	return &multiReader{readers: readers, done: make([]bool, len(readers)), left: len(readers)}
}

func (m *multiReader) Next(ctx context.Context) (rawBlock, bool, error) {
	if m.left == 0 {
		return rawBlock{}, false, nil
	}
	for tries := 0; tries < len(m.readers); tries++ {
		i := m.next
		m.next = (m.next + 1) % len(m.readers)
		if m.done[i] {
			continue
		}
		blk, ok, err := m.readers[i].Next(ctx)
		if err != nil {
			return rawBlock{}, false, err
		}
		if !ok {
			m.done[i] = true
			m.left--
			if cerr := m.readers[i].Close(); cerr != nil {
				return rawBlock{}, false, cerr
			}
			continue
		}
		blk.Generation = m.gen.take()
		return blk, true, nil
	}
	return rawBlock{}, false, nil
}

func (m *multiReader) Close() error {
	var err error
	for i, rd := range m.readers {
		if m.done[i] {
			continue
		}
		if cerr := rd.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
