// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chronomerge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
)

// followReader is a regular-file Reader that, once it reaches the
// current end of file, waits for further writes (tail -f) instead of
// reporting end of source (SPEC_FULL.md §C "--follow"). It reads the
// growing file directly rather than through a single fixed mmap, since
// mmap cannot extend to cover bytes appended after it was established.
type followReader struct {
	f         *os.File
	watcher   *fsnotify.Watcher
	gen       generationCounter
	blockSize int
	offset    int64
	pending   []byte
}

// NewFollowReader opens path for tailing: it first yields every block
// already present, then blocks (subject to ctx) waiting for the source
// to grow, exactly like `tail -f`. It never reports ok=false on its own;
// the caller's ctx cancellation is the only way Next stops blocking.
func NewFollowReader(path string, blockSize int) (Reader, error) {
	if blockSize <= 0 {
		blockSize = targetBlockSize
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, newRawBlockError("follow", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		f.Close()
		return nil, newRawBlockError("follow", err)
	}
	if err := w.Add(path); err != nil {
		f.Close()
		w.Close()
		return nil, newRawBlockError("follow", err)
	}
	return &followReader{f: f, watcher: w, blockSize: blockSize}, nil
}

func (fr *followReader) Next(ctx context.Context) (rawBlock, bool, error) {
	for {
		cut, _ := lineSplitter(fr.pending, fr.blockSize, false)
		if cut > 0 {
			out := fr.pending[:cut]
			fr.pending = append([]byte(nil), fr.pending[cut:]...)
			return rawBlock{Generation: fr.gen.take(), Size: int64(len(out)), Bytes: out}, true, nil
		}
		if n, err := fr.readMore(); err != nil {
			return rawBlock{}, false, newRawBlockError("follow", err)
		} else if n > 0 {
			continue
		}
		// Caught up with the current end of file: hand out every complete
		// line already buffered rather than waiting for blockSize bytes.
		if i := bytes.LastIndexByte(fr.pending, '\n'); i >= 0 {
			out := fr.pending[:i+1]
			fr.pending = append([]byte(nil), fr.pending[i+1:]...)
			return rawBlock{Generation: fr.gen.take(), Size: int64(len(out)), Bytes: out}, true, nil
		}
		select {
		case <-ctx.Done():
			return rawBlock{}, false, ctx.Err()
		case err, ok := <-fr.watcher.Errors:
			if ok {
				return rawBlock{}, false, newRawBlockError("follow", err)
			}
		case ev, ok := <-fr.watcher.Events:
			if !ok {
				return rawBlock{}, false, nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
		}
	}
}

func (fr *followReader) readMore() (int, error) {
	chunk := make([]byte, 64*1024)
	n, err := fr.f.ReadAt(chunk, fr.offset)
	if n > 0 {
		fr.pending = append(fr.pending, chunk[:n]...)
		fr.offset += int64(n)
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return n, nil // nothing new yet, not an error
		}
		return n, err
	}
	return n, nil
}

func (fr *followReader) Close() error {
	err := fr.watcher.Close()
	if cerr := fr.f.Close(); err == nil {
		err = cerr
	}
	return err
}
