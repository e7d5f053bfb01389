// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"context"
	"errors"
	"io"
)

// streamReader reads a non-seekable byte source (pipe, stdin) strictly
// once and hands whole blocks of bytes downstream; the parser archives
// the bytes into the BlockStore so they can be revisited later (§4.1
// "Stream"). Grounded on the teacher's scanner.go Scan loop, which reads
// ahead into a growable buffer until it can locate a boundary - here a
// newline via lineSplitter rather than a bzip2 block-magic sequence.
type streamReader struct {
	rd        io.Reader
	gen       generationCounter
	done      bool
	blockSize int
	pending   []byte // bytes read but not yet cut into a block
	eof       bool
}

// NewStreamReader returns a Reader over rd, which is consumed
// sequentially and never re-read (§1 "Stream").
func NewStreamReader(rd io.Reader, blockSize int) Reader {
	if blockSize <= 0 {
		blockSize = targetBlockSize
	}
	return &streamReader{rd: rd, blockSize: blockSize}
}

// fill reads more bytes from rd into pending until it has at least
// minBytes buffered or the source is exhausted.
func (s *streamReader) fill(minBytes int) error {
	chunk := make([]byte, 64*1024)
	for !s.eof && len(s.pending) < minBytes {
		n, err := s.rd.Read(chunk)
		if n > 0 {
			s.pending = append(s.pending, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
				break
			}
			return err
		}
	}
	return nil
}

func (s *streamReader) Next(ctx context.Context) (rawBlock, bool, error) {
	if s.done {
		return rawBlock{}, false, nil
	}
	select {
	case <-ctx.Done():
		return rawBlock{}, false, ctx.Err()
	default:
	}

	if err := s.fill(s.blockSize); err != nil {
		return rawBlock{}, false, newRawBlockError("stream", err)
	}
	cut, _ := lineSplitter(s.pending, s.blockSize, s.eof)
	for cut < 0 {
		if err := s.fill(len(s.pending) + 64*1024); err != nil {
			return rawBlock{}, false, newRawBlockError("stream", err)
		}
		cut, _ = lineSplitter(s.pending, s.blockSize, s.eof)
	}

	if cut == 0 && s.eof {
		s.done = true
		return rawBlock{}, false, nil
	}

	out := s.pending[:cut]
	s.pending = append([]byte(nil), s.pending[cut:]...)
	truncated := s.eof && len(s.pending) == 0 && out[len(out)-1] != '\n'
	if s.eof && len(s.pending) == 0 {
		s.done = true
	}
	return rawBlock{
		Generation: s.gen.take(),
		Size:       int64(len(out)),
		Bytes:      out,
		Truncated:  truncated,
	}, true, nil
}

func (s *streamReader) Close() error { return nil }
