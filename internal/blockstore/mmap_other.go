// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

//go:build !unix

package blockstore

import (
	"fmt"
	"io"
	"os"
)

// MappedFile falls back to a plain in-memory read on platforms without
// a POSIX mmap (§4.1 allows "memory-mapped or read on demand").
type MappedFile struct {
	data []byte
}

func MapFile(f *os.File) (*MappedFile, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("blockstore: seek: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("blockstore: read: %w", err)
	}
	return &MappedFile{data: data}, nil
}

func (m *MappedFile) Bytes(offset, size int64) []byte {
	return m.data[offset : offset+size]
}

func (m *MappedFile) Len() int64 { return int64(len(m.data)) }

func (m *MappedFile) Close() error { return nil }
