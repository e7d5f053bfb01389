// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"cloudeng.io/cmdutil"
	"github.com/cosnicolaou/chronomerge"
	"github.com/cosnicolaou/chronomerge/internal/index"
	"github.com/cosnicolaou/chronomerge/textlog"
)

func buildIndex(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cl := values.(*indexFlags)
	cmdutil.HandleSignals(cancel, os.Interrupt)

	if cl.Output == "" {
		return fmt.Errorf("--output is required")
	}
	mode, err := parseMode(cl.Mode)
	if err != nil {
		return err
	}
	if mode == chronomerge.ModeStream {
		return fmt.Errorf("index: stream sources cannot be indexed (they are not revisitable)")
	}

	name := args[0]
	info, err := os.Stat(name)
	if err != nil {
		return err
	}
	contents, err := ioutil.ReadFile(name)
	if err != nil {
		return err
	}

	var reader chronomerge.Reader
	switch mode {
	case chronomerge.ModeFile:
		reader, err = chronomerge.NewFileReader(name, 0, nil, nil)
	case chronomerge.ModeCompressed:
		f, err2 := os.Open(name)
		if err2 != nil {
			return err2
		}
		defer f.Close()
		reader = chronomerge.NewCompressedReader(f, nil, nil)
	}
	if err != nil {
		return err
	}

	sf, err := chronomerge.BuildIndex(ctx, reader, mode, textlog.Parser{}, name,
		info.Size(), info.ModTime().UnixMilli(), contents)
	if err != nil {
		return err
	}

	out, err := os.Create(cl.Output)
	if err != nil {
		return err
	}
	defer out.Close()
	var wr io.Writer = out
	if err := index.Write(wr, sf); err != nil {
		return err
	}
	if cl.Verbose {
		fmt.Fprintf(os.Stderr, "index: wrote %d blocks for %s to %s\n", len(sf.Blocks), name, cl.Output)
	}
	return nil
}
