// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cosnicolaou/chronomerge/internal/index"
)

// compressedFrameHeader is the container framing this reader expects
// around each compressed block: a big-endian uint32 byte length followed
// by that many bytes of codec-compressed payload. The codec itself
// (selection of zstd/gzip/etc.) is out of scope (§1); the parser
// delegates actual decompression to internal/blockstore's codec, which
// is zstd-specific per SPEC_FULL.md §B. This reader only needs to locate
// block boundaries in the container, which it does from the length
// prefix rather than a content scan, unlike the other two modes.
const compressedFrameHeaderSize = 4

// compressedReader reads a seekable container of independently-framed
// compressed blocks (§4.1 "Compressed file"). It pre-filters using a
// persistent index, when supplied, so fully-rejected blocks are never
// decompressed - decompression itself happens later in the parser pool,
// not here; this stage only demarcates block boundaries within the
// container and forwards the still-compressed bytes.
type compressedReader struct {
	rd        io.Reader
	gen       generationCounter
	idx       *index.SourceFile
	filter    Filter
	nextBlock int
}

// NewCompressedReader returns a Reader over rd, a seekable container of
// length-prefixed compressed blocks. idx, if non-nil, supplies
// per-block BlockIndex summaries so filter can reject whole blocks; a
// rejected block is never decompressed, though its bytes are still read
// from rd to skip past it.
func NewCompressedReader(rd io.Reader, idx *index.SourceFile, filter Filter) Reader {
	return &compressedReader{rd: rd, idx: idx, filter: filter}
}

func (cr *compressedReader) Next(ctx context.Context) (rawBlock, bool, error) {
	select {
	case <-ctx.Done():
		return rawBlock{}, false, ctx.Err()
	default:
	}
	for {
		var hdr [compressedFrameHeaderSize]byte
		n, err := io.ReadFull(cr.rd, hdr[:])
		if err != nil {
			if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
				return rawBlock{}, false, nil
			}
			return rawBlock{}, false, newRawBlockError("compressed", err)
		}
		size := binary.BigEndian.Uint32(hdr[:])
		buf := make([]byte, size)
		if _, err := io.ReadFull(cr.rd, buf); err != nil {
			return rawBlock{}, false, newRawBlockError("compressed", fmt.Errorf("short block: %w", err))
		}
		if cr.idx != nil && cr.filter != nil && int(cr.nextBlock) < len(cr.idx.Blocks) {
			b := cr.idx.Blocks[cr.nextBlock]
			cr.nextBlock++
			bi := BlockIndex{Flags: b.Index.Flags,
				Lines:      Lines{Valid: b.Index.Lines.Valid, Invalid: b.Index.Lines.Invalid},
				Timestamps: Timestamps{Present: b.Index.Timestamps.Present, Min: b.Index.Timestamps.Min, Max: b.Index.Timestamps.Max}}
			if !cr.filter.AcceptBlock(bi) {
				// Fully-rejected block: never decompressed, matching §4.1
				// "pre-filter using the persistent index so fully-rejected
				// blocks are never decompressed".
				continue
			}
		} else {
			cr.nextBlock++
		}
		return rawBlock{
			Generation: cr.gen.take(),
			Size:       int64(len(buf)),
			Bytes:      buf,
		}, true, nil
	}
}

func (cr *compressedReader) Close() error { return nil }
