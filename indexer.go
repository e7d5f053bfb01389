// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/cosnicolaou/chronomerge/internal/blockstore"
	"github.com/cosnicolaou/chronomerge/internal/index"
)

// BuildIndex scans every block of reader with parser, with no filtering,
// and returns the persistent index file (§6) that later runs can pass to
// NewFileReader or NewCompressedReader to skip blocks without reading or
// decompressing them. size/sha256Sum/modifiedMillis describe the underlying file and
// are opaque to BuildIndex; they are recorded so a later run can confirm
// the index still matches the file it indexes (§6 "quick-reject digest
// over Size, SHA256, Path, Modified").
//
// BuildIndex uses an unbounded Store so it can reuse parseBlock's
// mode-dispatch archiving path without a capacity cap. Blocks archived
// in stream/compressed modes are not released as indexing proceeds; they
// stay in the Store until BuildIndex returns and closes it.
func BuildIndex(ctx context.Context, reader Reader, mode Mode, parser RecordParser, path string, size, modifiedMillis int64, contents []byte) (index.SourceFile, error) {
	store, err := blockstore.New(0)
	if err != nil {
		return index.SourceFile{}, fmt.Errorf("chronomerge: %w", err)
	}
	defer store.Close()

	cfg := &parserConfig{mode: mode, parser: parser, filter: NilFilter{}, store: store}
	if mode == ModeCompressed {
		cfg.shortcut = &shortcutTracker{}
	}

	sf := index.SourceFile{
		Size:     uint64(size),
		Path:     path,
		Modified: modifiedMillis,
		SHA256:   sha256.Sum256(contents),
	}

	for {
		raw, ok, err := reader.Next(ctx)
		if err != nil {
			return index.SourceFile{}, fmt.Errorf("chronomerge: index: %w", err)
		}
		if !ok {
			break
		}
		blk, err := parseBlock(ctx, raw, cfg)
		if err != nil {
			return index.SourceFile{}, fmt.Errorf("chronomerge: index: %w", err)
		}
		if blk == nil {
			continue
		}
		idx := index.Index{
			Flags: blk.Index.Flags,
			Lines: index.Lines{Valid: blk.Index.Lines.Valid, Invalid: blk.Index.Lines.Invalid},
			Timestamps: index.Timestamps{
				Present: blk.Index.Timestamps.Present,
				Min:     blk.Index.Timestamps.Min,
				Max:     blk.Index.Timestamps.Max,
			},
		}
		sf.Blocks = append(sf.Blocks, index.SourceBlock{
			Offset: uint64(blk.Offset),
			Size:   uint64(blk.Size),
			Index:  idx,
		})
		sf.Index.Merge(idx)
	}
	return sf, nil
}
