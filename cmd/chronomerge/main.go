// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command chronomerge merges one or more chronologically-ordered log
// sources - regular files, non-seekable streams, or compressed
// containers - into a single, globally-ordered output stream.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	"cloudeng.io/cmdutil/subcmd"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
)

// CommonFlags are shared by every subcommand that drives a pipeline run.
type CommonFlags struct {
	Concurrency int  `subcmd:"concurrency,0,'parser worker concurrency, 0 means logical core count'"`
	Formatters  int  `subcmd:"formatters,0,'formatter worker concurrency, 0 means logical core count'"`
	Verbose     bool `subcmd:"verbose,false,verbose debug/trace information"`
}

type mergeFlags struct {
	CommonFlags
	Mode         string `subcmd:"mode,file,'file, stream or compressed'"`
	Output       string `subcmd:"output,,'output file or s3 path, omit for stdout'"`
	ProgressBar  bool   `subcmd:"progress,true,display a progress bar"`
	Since        string `subcmd:"since,,'RFC3339 lower timestamp bound, inclusive'"`
	Until        string `subcmd:"until,,'RFC3339 upper timestamp bound, inclusive'"`
	Levels       string `subcmd:"levels,,'comma separated level names to admit, empty means all'"`
	Index        string `subcmd:"index,,'persistent index file to use for pre-filtering'"`
	Follow       bool   `subcmd:"follow,false,'tail -f a single regular-file source after reaching EOF'"`
	BlockStoreMB int    `subcmd:"blockstore-mb,256,'BlockStore capacity in MiB for stream/compressed modes'"`
}

type indexFlags struct {
	CommonFlags
	Mode   string `subcmd:"mode,file,'file or compressed'"`
	Output string `subcmd:"output,,'index output file, required'"`
}

type noFlags struct{}

var cmdSet *subcmd.CommandSet

func init() {
	mergeCmd := subcmd.NewCommand("merge",
		subcmd.MustRegisterFlagStruct(&mergeFlags{}, nil, nil),
		merge, subcmd.AtLeastNArguments(0))
	mergeCmd.Document(`merge one or more log sources into a single chronologically-ordered stream. Sources may be local, on S3 or a URL; omit to read a single stream from stdin.`)

	indexCmd := subcmd.NewCommand("index",
		subcmd.MustRegisterFlagStruct(&indexFlags{}, nil, nil),
		buildIndex, subcmd.ExactlyNumArguments(1))
	indexCmd.Document(`build a persistent index file for a regular or compressed-file source, for later use with merge --index.`)

	inspectCmd := subcmd.NewCommand("inspect",
		subcmd.MustRegisterFlagStruct(&noFlags{}, nil, nil),
		inspect, subcmd.AtLeastNArguments(1))
	inspectCmd.Document(`print a per-block summary of one or more persistent index files.`)

	cmdSet = subcmd.NewCommandSet(mergeCmd, indexCmd, inspectCmd)
	cmdSet.Document(`merge and inspect chronologically-ordered log sources.`)

	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func main() {
	cmdSet.MustDispatch(context.Background())
}

func openFileOrURL(ctx context.Context, name string) (io.Reader, int64, func(context.Context) error, error) {
	if strings.HasPrefix(name, "http") {
		resp, err := http.Get(name)
		if err != nil {
			return nil, 0, nil, err
		}
		return resp.Body,
			resp.ContentLength,
			func(context.Context) error {
				resp.Body.Close()
				return nil
			},
			nil
	}
	info, err := file.Stat(ctx, name)
	if err != nil {
		return nil, 0, nil, err
	}
	f, err := file.Open(ctx, name)
	if err != nil {
		return nil, 0, nil, err
	}
	return f.Reader(ctx), info.Size(), f.Close, nil
}

func createFile(ctx context.Context, name string) (io.Writer, func(context.Context) error, error) {
	if len(name) == 0 {
		return os.Stdout,
			func(context.Context) error { return nil },
			nil
	}
	f, err := file.Create(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return f.Writer(ctx), f.Close, nil
}
