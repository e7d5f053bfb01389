// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package index

import (
	"bytes"
	"encoding/binary"

	"github.com/dchest/siphash"
)

// digestKey is fixed: the frame only needs to screen out accidental
// corruption, not resist a deliberate adversary, so a constant key is
// fine (the full-file sha256 in SourceFile.SHA256 is the integrity
// guarantee that matters; this digest is a cheap quick-reject for the
// frame body itself, per SPEC_FULL.md §B).
const digestKey0, digestKey1 uint64 = 0x636872_6f6e6f6d, 0x65726765

// quickDigest computes a siphash-2-4 digest over the fields that make up
// the frame body, so a reader can cheaply detect a truncated or
// bit-flipped frame before walking every block.
func quickDigest(sf SourceFile) uint64 {
	var buf bytes.Buffer
	var tmp [8]byte
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		buf.Write(tmp[:])
	}
	putU64(sf.Size)
	buf.Write(sf.SHA256[:])
	buf.WriteString(sf.Path)
	putU64(uint64(sf.Modified))
	putU64(uint64(len(sf.Blocks)))
	for _, b := range sf.Blocks {
		putU64(b.Offset)
		putU64(b.Size)
		putU64(b.Index.Flags)
	}
	return siphash.Hash(digestKey0, digestKey1, buf.Bytes())
}
