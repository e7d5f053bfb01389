// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package index encodes and decodes the persistent index file schema of
// spec §6: a little-endian, explicitly versioned frame describing a
// source file's blocks so a later regular-file or compressed-file run
// can skip blocks rejected by the configured filter without reading
// them.
//
// The frame layout (magic, a uint32 version and a uint64 digest, then a
// sequence of fixed fields) is grounded on the teacher's own bzip2
// stream header/trailer parsing in scanner.go's parseHeader, which reads
// a magic + version + size byte triple with encoding/binary; this
// package generalizes that idiom from a 4-byte bzip2 header to the
// richer Root/SourceFile/SourceBlock/Index frame spec.md §6 specifies.
package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// magic precedes the root frame (§6 "A magic 64-bit signature precedes
// the root frame").
const magic uint64 = 0x4348524f4e4f4d31 // "CHRONOM1"

// version identifies the frame layout. Bumping it lets readers reject
// frames from a future or legacy schema at the magic check, per §9(c).
const version uint32 = 1

// knownFlagMask is the OR of every flag bit this schema assigns meaning
// to; Flags bits are rejected outside of it (§6).
const knownFlagMask uint64 = 0xFF | 0x100 | 0x8000_0000_0000_0000

// Timestamps mirrors chronomerge.Timestamps for serialization without an
// import cycle (this package is lower-level than the root package).
type Timestamps struct {
	Present  bool
	Min, Max int64
}

// Lines mirrors chronomerge.Lines.
type Lines struct {
	Valid, Invalid uint64
}

// Index mirrors chronomerge.BlockIndex.
type Index struct {
	Flags      uint64
	Lines      Lines
	Timestamps Timestamps
}

// Merge folds other's observations into idx, used by BuildIndex to
// accumulate a file-level summary across every block (mirrors
// chronomerge.BlockIndex.Merge; duplicated rather than imported to avoid
// a dependency cycle, since this package is lower-level than the root
// package).
func (idx *Index) Merge(other Index) {
	idx.Flags |= other.Flags & 0xFF
	idx.Lines.Valid += other.Lines.Valid
	idx.Lines.Invalid += other.Lines.Invalid
	if other.Timestamps.Present {
		if !idx.Timestamps.Present {
			idx.Timestamps = other.Timestamps
		} else {
			if other.Timestamps.Min < idx.Timestamps.Min {
				idx.Timestamps.Min = other.Timestamps.Min
			}
			if other.Timestamps.Max > idx.Timestamps.Max {
				idx.Timestamps.Max = other.Timestamps.Max
			}
		}
	}
}

// SourceBlock is one entry of SourceFile.Blocks.
type SourceBlock struct {
	Offset, Size uint64
	Index        Index
}

// SourceFile is the body of the Root frame (§6).
type SourceFile struct {
	Size     uint64
	SHA256   [32]byte
	Path     string
	Modified int64 // milliseconds since Unix epoch
	Index    Index
	Blocks   []SourceBlock
}

// Write serializes a SourceFile as the Root frame to w.
func Write(w io.Writer, sf SourceFile) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, magic); err != nil {
		return fmt.Errorf("index: write magic: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, version); err != nil {
		return fmt.Errorf("index: write version: %w", err)
	}
	digest := quickDigest(sf)
	if err := binary.Write(bw, binary.LittleEndian, digest); err != nil {
		return fmt.Errorf("index: write digest: %w", err)
	}
	if err := writeSourceFile(bw, sf); err != nil {
		return err
	}
	return bw.Flush()
}

func writeSourceFile(w io.Writer, sf SourceFile) error {
	fields := []any{sf.Size, sf.SHA256, sf.Modified}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("index: write source file: %w", err)
		}
	}
	if err := writeString(w, sf.Path); err != nil {
		return err
	}
	if err := writeIndex(w, sf.Index); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(sf.Blocks))); err != nil {
		return fmt.Errorf("index: write block count: %w", err)
	}
	for _, b := range sf.Blocks {
		if err := writeBlock(w, b); err != nil {
			return err
		}
	}
	return nil
}

func writeBlock(w io.Writer, b SourceBlock) error {
	if err := binary.Write(w, binary.LittleEndian, b.Offset); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, b.Size); err != nil {
		return err
	}
	return writeIndex(w, b.Index)
}

func writeIndex(w io.Writer, idx Index) error {
	if idx.Flags&^knownFlagMask != 0 {
		return fmt.Errorf("index: flags %#x set bits outside the known mask", idx.Flags)
	}
	for _, f := range []any{idx.Flags, idx.Lines.Valid, idx.Lines.Invalid,
		idx.Timestamps.Present, idx.Timestamps.Min, idx.Timestamps.Max} {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("index: write index: %w", err)
		}
	}
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// Read deserializes a Root frame from r, rejecting wrong magic, a
// version other than the one this package writes, and any Index.Flags
// bit outside knownFlagMask (§6, §9c: "reject mixed schemas at the magic
// check").
func Read(r io.Reader) (SourceFile, error) {
	br := bufio.NewReader(r)
	var gotMagic uint64
	if err := binary.Read(br, binary.LittleEndian, &gotMagic); err != nil {
		return SourceFile{}, fmt.Errorf("index: read magic: %w", err)
	}
	if gotMagic != magic {
		return SourceFile{}, fmt.Errorf("index: bad magic %#x, not a chronomerge index (or incompatible legacy schema, see §9c)", gotMagic)
	}
	var gotVersion uint32
	if err := binary.Read(br, binary.LittleEndian, &gotVersion); err != nil {
		return SourceFile{}, fmt.Errorf("index: read version: %w", err)
	}
	if gotVersion != version {
		return SourceFile{}, fmt.Errorf("index: unsupported frame version %d, want %d", gotVersion, version)
	}
	var digest uint64
	if err := binary.Read(br, binary.LittleEndian, &digest); err != nil {
		return SourceFile{}, fmt.Errorf("index: read digest: %w", err)
	}
	sf, err := readSourceFile(br)
	if err != nil {
		return SourceFile{}, err
	}
	if want := quickDigest(sf); want != digest {
		return SourceFile{}, fmt.Errorf("index: digest mismatch, frame is corrupt")
	}
	return sf, nil
}

func readSourceFile(r io.Reader) (SourceFile, error) {
	var sf SourceFile
	fields := []any{&sf.Size, &sf.SHA256, &sf.Modified}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return sf, fmt.Errorf("index: read source file: %w", err)
		}
	}
	path, err := readString(r)
	if err != nil {
		return sf, err
	}
	sf.Path = path
	idx, err := readIndex(r)
	if err != nil {
		return sf, err
	}
	sf.Index = idx
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return sf, fmt.Errorf("index: read block count: %w", err)
	}
	sf.Blocks = make([]SourceBlock, n)
	for i := range sf.Blocks {
		b, err := readBlock(r)
		if err != nil {
			return sf, err
		}
		sf.Blocks[i] = b
	}
	return sf, nil
}

func readBlock(r io.Reader) (SourceBlock, error) {
	var b SourceBlock
	if err := binary.Read(r, binary.LittleEndian, &b.Offset); err != nil {
		return b, err
	}
	if err := binary.Read(r, binary.LittleEndian, &b.Size); err != nil {
		return b, err
	}
	idx, err := readIndex(r)
	if err != nil {
		return b, err
	}
	b.Index = idx
	return b, nil
}

func readIndex(r io.Reader) (Index, error) {
	var idx Index
	fields := []any{&idx.Flags, &idx.Lines.Valid, &idx.Lines.Invalid,
		&idx.Timestamps.Present, &idx.Timestamps.Min, &idx.Timestamps.Max}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return idx, fmt.Errorf("index: read index: %w", err)
		}
	}
	if idx.Flags&^knownFlagMask != 0 {
		return idx, fmt.Errorf("index: flags %#x set bits outside the known mask, rejecting frame", idx.Flags)
	}
	return idx, nil
}

func readString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("index: read string length: %w", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("index: read string: %w", err)
	}
	return string(buf), nil
}
