// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package blockstore implements the in-memory, capacity-bounded,
// reference-counted block byte store used by the stream and
// compressed-file ingestion modes (§4.6 BlockStore).
//
// There is no single teacher component that does this directly - the
// teacher always has either the whole compressed file on disk or the
// current scan buffer in hand. This package is grounded on two teacher
// patterns generalized together: the bounded-channel back-pressure idiom
// from parallel.go (a fixed-capacity gate that callers block on) applied
// to a capacity-bounded map instead of a channel, and the compressed
// byte handling in bzip2/block.go (decompress-on-demand over a retained
// buffer).
package blockstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Handle identifies a block's bytes inside a Store.
type Handle struct {
	generation uint64
}

// Generation returns the block generation this handle refers to.
func (h Handle) Generation() uint64 { return h.generation }

type entry struct {
	compressed []byte
	refs       int
	timestampMax int64
	hasTimestampMax bool
	freed      bool
}

// Store holds compressed block bytes between the parser and formatter
// stages for non-seekable sources. Total retained compressed bytes never
// exceed Cap; Put blocks (respecting ctx) when admitting a new block
// would exceed it (§4.6 invariant, §5 "BlockStore capacity").
type Store struct {
	cap int64

	mu        sync.Mutex
	cond      *sync.Cond
	used      int64
	entries   map[uint64]*entry
	watermark int64
	hasWatermark bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New returns a Store with the given capacity in bytes. capBytes <= 0
// means unbounded (used by tests and by modes that don't need the
// back-pressure gate).
func New(capBytes int64) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("blockstore: new encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("blockstore: new decoder: %w", err)
	}
	s := &Store{
		cap:     capBytes,
		entries: make(map[uint64]*entry),
		encoder: enc,
		decoder: dec,
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Close releases the shared encoder/decoder. Safe to call once all
// workers have stopped calling Put/Get.
func (s *Store) Close() {
	s.encoder.Close()
	s.decoder.Close()
}

// Put compresses raw and stores it under generation, blocking until
// capacity is available or ctx is done. timestampMax/hasTimestampMax
// carry the block's BlockIndex.Timestamps.Max so Release can apply the
// watermark-based free rule without the caller re-supplying it.
func (s *Store) Put(ctx context.Context, generation uint64, raw []byte, timestampMax int64, hasTimestampMax bool) (Handle, error) {
	// EncodeAll/DecodeAll on a shared *zstd.Encoder/*zstd.Decoder are
	// safe for concurrent use by multiple goroutines, so only the map
	// and capacity bookkeeping below need s.mu.
	compressed := s.encoder.EncodeAll(raw, nil)

	s.mu.Lock()
	for s.cap > 0 && s.used+int64(len(compressed)) > s.cap {
		waitCh := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				s.mu.Lock()
				s.cond.Broadcast()
				s.mu.Unlock()
			case <-waitCh:
			}
		}()
		s.cond.Wait()
		close(waitCh)
		if err := ctx.Err(); err != nil {
			s.mu.Unlock()
			return Handle{}, err
		}
	}
	s.entries[generation] = &entry{
		compressed:      compressed,
		refs:            1,
		timestampMax:    timestampMax,
		hasTimestampMax: hasTimestampMax,
	}
	s.used += int64(len(compressed))
	s.mu.Unlock()
	return Handle{generation: generation}, nil
}

// Get returns a decompressed view of the block referred to by h. It may
// be called concurrently by multiple formatter workers.
func (s *Store) Get(h Handle) ([]byte, error) {
	s.mu.Lock()
	e, ok := s.entries[h.generation]
	var compressed []byte
	if ok && !e.freed {
		compressed = e.compressed
	}
	s.mu.Unlock()
	if !ok || compressed == nil {
		return nil, fmt.Errorf("blockstore: block %d not present", h.generation)
	}
	return s.decoder.DecodeAll(compressed, nil)
}

// AddRef increments a block's reference count, used when a second
// downstream stage also needs to read it.
func (s *Store) AddRef(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[h.generation]; ok {
		e.refs++
	}
}

// Release decrements the reference count for h. The bytes are freed
// once refs reaches zero AND the merger's watermark has advanced past
// the block's Timestamps.Max (§4.6 "on zero and when
// merger.watermark >= index.timestamps.max, frees the storage").
func (s *Store) Release(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(h)
}

func (s *Store) releaseLocked(h Handle) {
	e, ok := s.entries[h.generation]
	if !ok {
		return
	}
	e.refs--
	s.maybeFreeLocked(h.generation, e)
}

// AdvanceWatermark records the merger's current watermark and frees any
// zero-refcount blocks it newly admits.
func (s *Store) AdvanceWatermark(wm int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasWatermark && wm <= s.watermark {
		return
	}
	s.watermark = wm
	s.hasWatermark = true
	for gen, e := range s.entries {
		s.maybeFreeLocked(gen, e)
	}
}

func (s *Store) maybeFreeLocked(gen uint64, e *entry) {
	if e.freed || e.refs > 0 {
		return
	}
	if e.hasTimestampMax && (!s.hasWatermark || s.watermark < e.timestampMax) {
		return
	}
	s.used -= int64(len(e.compressed))
	e.compressed = nil
	e.freed = true
	delete(s.entries, gen)
	s.cond.Broadcast()
}

// DecompressRaw decompresses an arbitrary zstd-compressed buffer that
// was never Put into the store, used by the compressed-file reader mode
// to turn a container frame's compressed bytes into plain text before
// the parser splits it into lines.
func (s *Store) DecompressRaw(compressed []byte) ([]byte, error) {
	return s.decoder.DecodeAll(compressed, nil)
}

// CompressRaw compresses an arbitrary buffer without storing it,
// producing the bytes a caller can later hand back via DecompressRaw or
// embed directly in a container frame.
func (s *Store) CompressRaw(raw []byte) []byte {
	return s.encoder.EncodeAll(raw, nil)
}

// Used reports current retained compressed bytes, for tests and tracing.
func (s *Store) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}
