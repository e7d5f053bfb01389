// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"cloudeng.io/cmdutil"
	"cloudeng.io/errors"
	"github.com/cosnicolaou/chronomerge"
	"github.com/cosnicolaou/chronomerge/internal/index"
	"github.com/cosnicolaou/chronomerge/textlog"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v2"
	"golang.org/x/crypto/ssh/terminal"
)

func parseMode(s string) (chronomerge.Mode, error) {
	switch strings.ToLower(s) {
	case "", "file":
		return chronomerge.ModeFile, nil
	case "stream":
		return chronomerge.ModeStream, nil
	case "compressed":
		return chronomerge.ModeCompressed, nil
	default:
		return 0, fmt.Errorf("unrecognised mode %q, want file, stream or compressed", s)
	}
}

func parseLevels(s string) uint64 {
	var mask uint64
	if s == "" {
		return 0
	}
	for _, tok := range strings.Split(s, ",") {
		switch strings.ToUpper(strings.TrimSpace(tok)) {
		case "DEBUG":
			mask |= chronomerge.FlagLevelDebug
		case "INFO":
			mask |= chronomerge.FlagLevelInfo
		case "WARNING":
			mask |= chronomerge.FlagLevelWarning
		case "ERROR":
			mask |= chronomerge.FlagLevelError
		}
	}
	return mask
}

func buildFilter(cl *mergeFlags) (chronomerge.Filter, error) {
	mask := parseLevels(cl.Levels)
	if cl.Since == "" && cl.Until == "" && mask == 0 {
		return nil, nil
	}
	f := chronomerge.LevelWindowFilter{LevelMask: mask}
	if cl.Since != "" {
		t, err := time.Parse(time.RFC3339, cl.Since)
		if err != nil {
			return nil, fmt.Errorf("--since: %w", err)
		}
		f.HasWindow = true
		f.Since = t.UnixMilli()
	}
	if cl.Until != "" {
		t, err := time.Parse(time.RFC3339, cl.Until)
		if err != nil {
			return nil, fmt.Errorf("--until: %w", err)
		}
		f.HasWindow = true
		f.Until = t.UnixMilli()
	} else if f.HasWindow {
		f.Until = int64(1)<<63 - 1
	}
	return f, nil
}

func loadIndex(ctx context.Context, path string) (*index.SourceFile, error) {
	if path == "" {
		return nil, nil
	}
	rd, _, cleanup, err := openFileOrURL(ctx, path)
	if err != nil {
		return nil, err
	}
	defer cleanup(ctx)
	sf, err := index.Read(rd)
	if err != nil {
		return nil, err
	}
	return &sf, nil
}

func openSourceReader(ctx context.Context, cl *mergeFlags, mode chronomerge.Mode, name string, idx *index.SourceFile, filter chronomerge.Filter) (chronomerge.Reader, int64, error) {
	if cl.Follow {
		rd, err := chronomerge.NewFollowReader(name, 0)
		return rd, 0, err
	}
	if name == "" {
		return chronomerge.NewStreamReader(os.Stdin, 0), 0, nil
	}
	switch mode {
	case chronomerge.ModeFile:
		rd, err := chronomerge.NewFileReader(name, 0, idx, filter)
		return rd, 0, err
	case chronomerge.ModeCompressed:
		rc, size, cleanup, err := openFileOrURL(ctx, name)
		if err != nil {
			return nil, 0, err
		}
		return withCleanup(chronomerge.NewCompressedReader(rc, idx, filter), cleanup), size, nil
	default:
		rc, size, cleanup, err := openFileOrURL(ctx, name)
		if err != nil {
			return nil, 0, err
		}
		return withCleanup(chronomerge.NewStreamReader(rc, 0), cleanup), size, nil
	}
}

// cleanupReader closes an underlying source (file descriptor, HTTP
// response body) once the wrapped Reader is itself closed; the stream
// and compressed-file Reader implementations have nothing of their own
// to release, so plain cleanup would otherwise never run.
type cleanupReader struct {
	chronomerge.Reader
	cleanup func(context.Context) error
}

func (c *cleanupReader) Close() error {
	err := c.Reader.Close()
	if cerr := c.cleanup(context.Background()); err == nil {
		err = cerr
	}
	return err
}

func withCleanup(rd chronomerge.Reader, cleanup func(context.Context) error) chronomerge.Reader {
	return &cleanupReader{Reader: rd, cleanup: cleanup}
}

func runProgressBar(ctx context.Context, wr io.Writer, ch <-chan chronomerge.Progress, totalSize int64) {
	bar := progressbar.NewOptions64(totalSize,
		progressbar.OptionSetBytes64(totalSize),
		progressbar.OptionSetWriter(wr),
		progressbar.OptionSetPredictTime(true))
	bar.RenderBlank()
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				fmt.Fprintln(wr)
				return
			}
			bar.Add(p.Bytes)
		case <-ctx.Done():
			return
		}
	}
}

func merge(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cl := values.(*mergeFlags)
	cmdutil.HandleSignals(cancel, os.Interrupt)

	runID := uuid.New()
	if cl.Verbose {
		fmt.Fprintf(os.Stderr, "chronomerge: run %s starting\n", runID)
	}

	mode, err := parseMode(cl.Mode)
	if err != nil {
		return err
	}
	filter, err := buildFilter(cl)
	if err != nil {
		return err
	}
	idx, err := loadIndex(ctx, cl.Index)
	if err != nil {
		return err
	}

	var readers []chronomerge.Reader
	var totalSize int64
	errs := &errors.M{}
	closeAll := func() {
		for _, rd := range readers {
			errs.Append(rd.Close())
		}
	}
	if len(args) == 0 {
		rd, size, err := openSourceReader(ctx, cl, mode, "", idx, filter)
		if err != nil {
			return err
		}
		readers = append(readers, rd)
		totalSize += size
	} else {
		for _, name := range args {
			rd, size, err := openSourceReader(ctx, cl, mode, name, idx, filter)
			if err != nil {
				closeAll()
				return fmt.Errorf("%s: %w", name, err)
			}
			readers = append(readers, rd)
			totalSize += size
		}
	}

	var reader chronomerge.Reader
	if len(readers) == 1 {
		reader = readers[0]
	} else {
		reader = chronomerge.NewMultiReader(readers...)
	}

	wr, writerCleanup, err := createFile(ctx, cl.Output)
	if err != nil {
		return err
	}

	isTTY := terminal.IsTerminal(int(os.Stdout.Fd()))
	var progressCh chan chronomerge.Progress
	var progressWg sync.WaitGroup
	if cl.ProgressBar && (len(cl.Output) > 0 || !isTTY) {
		progressCh = make(chan chronomerge.Progress, 64)
		progressWr := os.Stdout
		if !isTTY {
			progressWr = os.Stderr
		}
		progressWg.Add(1)
		go func() {
			defer progressWg.Done()
			runProgressBar(ctx, progressWr, progressCh, totalSize)
		}()
	}

	concurrency := cl.Concurrency
	if concurrency == 0 {
		concurrency = runtime.GOMAXPROCS(-1)
	}
	formatters := cl.Formatters
	if formatters == 0 {
		formatters = runtime.GOMAXPROCS(-1)
	}

	opts := chronomerge.Options{
		Mode:               mode,
		Parser:             textlog.Parser{},
		Formatter:          textlog.Formatter{},
		Filter:             filter,
		Sink:               wr,
		NumParsers:         concurrency,
		NumFormatters:      formatters,
		BlockStoreCapacity: int64(cl.BlockStoreMB) << 20,
		Index:              idx,
		Verbose:            cl.Verbose,
	}
	if progressCh != nil {
		opts.Progress = progressCh
	}

	runErr := chronomerge.Run(ctx, reader, opts)
	if progressCh != nil {
		close(progressCh)
		progressWg.Wait()
	}
	errs.Append(runErr)
	errs.Append(writerCleanup(ctx))
	return errs.Err()
}
