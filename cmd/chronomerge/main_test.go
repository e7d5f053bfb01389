// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package main_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func chronomergeCmd(args ...string) ([]byte, string, error) {
	cmd := exec.Command("go", "run", ".", args...)
	output, err := cmd.CombinedOutput()
	return output, string(output), err
}

func writeLines(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMergeInterleavesTwoFiles(t *testing.T) {
	tmpdir := t.TempDir()
	f1 := writeLines(t, tmpdir, "a.log", "100 INFO start", "300 INFO c")
	f2 := writeLines(t, tmpdir, "b.log", "200 INFO b", "400 INFO d")
	ofile := filepath.Join(tmpdir, "merged.log")

	_, out, err := chronomergeCmd("merge",
		"--mode=file", "--progress=false", "--output="+ofile, f1, f2)
	require.NoErrorf(t, err, "merge failed: %s", out)

	got, err := os.ReadFile(ofile)
	require.NoError(t, err)
	require.Equal(t, "100 INFO start\n200 INFO b\n300 INFO c\n400 INFO d\n", string(got))
}

func TestMergeAppliesLevelFilter(t *testing.T) {
	tmpdir := t.TempDir()
	f1 := writeLines(t, tmpdir, "a.log", "100 DEBUG noisy", "200 ERROR boom")
	ofile := filepath.Join(tmpdir, "merged.log")

	_, out, err := chronomergeCmd("merge",
		"--mode=file", "--progress=false", "--levels=ERROR", "--output="+ofile, f1)
	if err != nil {
		t.Fatalf("merge failed: %v: %s", err, out)
	}

	got, err := os.ReadFile(ofile)
	if err != nil {
		t.Fatal(err)
	}
	want := "200 ERROR boom\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIndexThenInspect(t *testing.T) {
	tmpdir := t.TempDir()
	f1 := writeLines(t, tmpdir, "a.log", "100 INFO start", "200 ERROR boom")
	idxFile := filepath.Join(tmpdir, "a.idx")

	_, out, err := chronomergeCmd("index", "--mode=file", "--output="+idxFile, f1)
	if err != nil {
		t.Fatalf("index failed: %v: %s", err, out)
	}
	if _, err := os.Stat(idxFile); err != nil {
		t.Fatalf("expected index file to be created: %v", err)
	}

	_, out, err = chronomergeCmd("inspect", idxFile)
	if err != nil {
		t.Fatalf("inspect failed: %v: %s", err, out)
	}
	if !strings.Contains(out, "path: "+f1) {
		t.Fatalf("inspect output missing source path: %s", out)
	}
	if !strings.Contains(out, "blocks: ") {
		t.Fatalf("inspect output missing block summary: %s", out)
	}
}

func TestMergeErrorsOnMissingSource(t *testing.T) {
	tmpdir := t.TempDir()
	missing := filepath.Join(tmpdir, "does-not-exist.log")
	ofile := filepath.Join(tmpdir, "merged.log")

	_, out, err := chronomergeCmd("merge",
		"--mode=file", "--progress=false", "--output="+ofile, missing)
	if err == nil {
		t.Fatalf("expected an error for a missing source file, got output: %s", out)
	}
}

func TestIndexRejectsStreamMode(t *testing.T) {
	tmpdir := t.TempDir()
	f1 := writeLines(t, tmpdir, "a.log", "100 INFO start")
	idxFile := filepath.Join(tmpdir, "a.idx")

	_, out, err := chronomergeCmd("index", "--mode=stream", "--output="+idxFile, f1)
	if err == nil || !strings.Contains(out, "cannot be indexed") {
		t.Fatalf("expected a stream-mode rejection error, got: %v: %s", err, out)
	}
}
