// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

//go:build unix

package blockstore

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MappedFile is a read-only memory map of a regular file, used by the
// regular-file reader (§4.1 "actual bytes are memory-mapped or read on
// demand by the parser") so re-reading an already-scanned block costs no
// additional syscall.
type MappedFile struct {
	data []byte
}

// MapFile memory-maps f for reading over its full current size.
func MapFile(f *os.File) (*MappedFile, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("blockstore: stat: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return &MappedFile{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("blockstore: mmap: %w", err)
	}
	return &MappedFile{data: data}, nil
}

// Bytes returns the mapped range [offset, offset+size).
func (m *MappedFile) Bytes(offset, size int64) []byte {
	return m.data[offset : offset+size]
}

// Len returns the total mapped length.
func (m *MappedFile) Len() int64 { return int64(len(m.data)) }

// Close unmaps the file.
func (m *MappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}
