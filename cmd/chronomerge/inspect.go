// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"

	"cloudeng.io/cmdutil"
	"cloudeng.io/errors"
	"github.com/cosnicolaou/chronomerge/internal/index"
)

func inspectFile(ctx context.Context, name string) error {
	rd, _, cleanup, err := openFileOrURL(ctx, name)
	if err != nil {
		return err
	}
	defer cleanup(ctx)
	sf, err := index.Read(rd)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	fmt.Printf("=== %s ===\n", name)
	fmt.Printf("path: %s\n", sf.Path)
	fmt.Printf("size: %d bytes, modified: %d (ms since epoch)\n", sf.Size, sf.Modified)
	fmt.Printf("blocks: %d, lines valid=%d invalid=%d\n",
		len(sf.Blocks), sf.Index.Lines.Valid, sf.Index.Lines.Invalid)
	if sf.Index.Timestamps.Present {
		fmt.Printf("timestamps: [%d, %d]\n", sf.Index.Timestamps.Min, sf.Index.Timestamps.Max)
	}
	fmt.Println("block, offset, size, valid, invalid, flags, ts.min, ts.max")
	for i, b := range sf.Blocks {
		fmt.Printf("% 6d, % 12d, % 10d, % 8d, % 8d, %#04x, % 20d, % 20d\n",
			i, b.Offset, b.Size, b.Index.Lines.Valid, b.Index.Lines.Invalid,
			b.Index.Flags, b.Index.Timestamps.Min, b.Index.Timestamps.Max)
	}
	return nil
}

func inspect(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cmdutil.HandleSignals(cancel, os.Interrupt)
	errs := &errors.M{}
	for _, arg := range args {
		errs.Append(inspectFile(ctx, arg))
	}
	return errs.Err()
}
