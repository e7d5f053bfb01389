// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"context"
	"os"

	"github.com/cosnicolaou/chronomerge/internal/blockstore"
	"github.com/cosnicolaou/chronomerge/internal/index"
)

// fileReader emits (offset, size) descriptors for a memory-mapped
// regular file; bytes are resolved on demand by the parser (§4.1
// "Regular file"). When a persistent index is supplied, blocks whose
// BlockIndex the filter rejects are skipped without ever being handed to
// the parser.
type fileReader struct {
	f         *os.File
	mapped    *blockstore.MappedFile
	gen       generationCounter
	blockSize int
	offset    int64
	filter    Filter
	prebuilt  []index.SourceBlock // nil unless a persistent index was supplied
	nextBlock int
}

// NewFileReader opens path and memory-maps it for random access. If idx
// is non-nil its per-block BlockIndex entries are used to skip blocks
// rejected by filter without reading them (§4.1). filter may be nil (no
// pre-filtering).
func NewFileReader(path string, blockSize int, idx *index.SourceFile, filter Filter) (Reader, error) {
	if blockSize <= 0 {
		blockSize = targetBlockSize
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, newRawBlockError("file", err)
	}
	mapped, err := blockstore.MapFile(f)
	if err != nil {
		f.Close()
		return nil, newRawBlockError("file", err)
	}
	fr := &fileReader{
		f:         f,
		mapped:    mapped,
		blockSize: blockSize,
		filter:    filter,
	}
	if idx != nil {
		fr.prebuilt = idx.Blocks
	}
	return fr, nil
}

func (fr *fileReader) Next(ctx context.Context) (rawBlock, bool, error) {
	select {
	case <-ctx.Done():
		return rawBlock{}, false, ctx.Err()
	default:
	}
	if fr.prebuilt != nil {
		return fr.nextFromIndex(ctx)
	}
	return fr.nextScanned()
}

// nextFromIndex walks the persistent index's block list, using it both
// to locate boundaries without re-scanning for newlines and to skip
// blocks the filter rejects (§4.1).
func (fr *fileReader) nextFromIndex(ctx context.Context) (rawBlock, bool, error) {
	for fr.nextBlock < len(fr.prebuilt) {
		b := fr.prebuilt[fr.nextBlock]
		fr.nextBlock++
		if fr.filter != nil {
			bi := BlockIndex{Flags: b.Index.Flags,
				Lines:      Lines{Valid: b.Index.Lines.Valid, Invalid: b.Index.Lines.Invalid},
				Timestamps: Timestamps{Present: b.Index.Timestamps.Present, Min: b.Index.Timestamps.Min, Max: b.Index.Timestamps.Max}}
			if !fr.filter.AcceptBlock(bi) {
				continue
			}
		}
		offset, size := int64(b.Offset), int64(b.Size)
		return rawBlock{
			Generation: fr.gen.take(),
			Offset:     offset,
			Size:       size,
			FileBytes:  func() ([]byte, error) { return fr.mapped.Bytes(offset, size), nil },
		}, true, nil
	}
	return rawBlock{}, false, nil
}

func (fr *fileReader) nextScanned() (rawBlock, bool, error) {
	remaining := fr.mapped.Len() - fr.offset
	if remaining <= 0 {
		return rawBlock{}, false, nil
	}
	window := fr.mapped.Bytes(fr.offset, remaining)
	cut, _ := lineSplitter(window, fr.blockSize, true)
	if cut <= 0 {
		return rawBlock{}, false, nil
	}
	offset, size := fr.offset, int64(cut)
	fr.offset += size
	return rawBlock{
		Generation: fr.gen.take(),
		Offset:     offset,
		Size:       size,
		FileBytes:  func() ([]byte, error) { return fr.mapped.Bytes(offset, size), nil },
		Truncated:  window[cut-1] != '\n',
	}, true, nil
}

func (fr *fileReader) Close() error {
	err := fr.mapped.Close()
	if cerr := fr.f.Close(); err == nil {
		err = cerr
	}
	return err
}
