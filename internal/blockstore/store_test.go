// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package blockstore

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	s, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	h, err := s.Put(context.Background(), 1, []byte("hello world"), 100, true)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestReleaseFreesOnlyAfterWatermarkAdvances(t *testing.T) {
	s, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	h, err := s.Put(context.Background(), 1, []byte("payload"), 50, true)
	if err != nil {
		t.Fatal(err)
	}
	usedBefore := s.Used()
	if usedBefore == 0 {
		t.Fatal("expected non-zero retained bytes after Put")
	}

	s.Release(h)
	if s.Used() != usedBefore {
		t.Fatal("expected bytes to remain retained: refcount zero but watermark has not reached timestamps.max yet")
	}

	s.AdvanceWatermark(49) // still below timestampMax=50
	if s.Used() != usedBefore {
		t.Fatal("expected bytes to remain retained: watermark still below timestamps.max")
	}

	s.AdvanceWatermark(50) // now reaches timestampMax
	if s.Used() != 0 {
		t.Fatal("expected bytes to be freed once watermark reaches timestamps.max with refcount zero")
	}
	if _, err := s.Get(h); err == nil {
		t.Fatal("expected Get on a freed handle to return an error")
	}
}

func TestAddRefDelaysRelease(t *testing.T) {
	s, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	h, err := s.Put(context.Background(), 1, []byte("payload"), 0, false)
	if err != nil {
		t.Fatal(err)
	}
	s.AddRef(h)
	s.Release(h) // refs: 2 -> 1, still held
	if _, err := s.Get(h); err != nil {
		t.Fatalf("expected block to still be readable after one of two references is released: %v", err)
	}
	s.Release(h) // refs: 1 -> 0, hasTimestampMax is false so it frees immediately
	if s.Used() != 0 {
		t.Fatal("expected block with no timestampMax to free immediately once refs reach zero")
	}
}

func TestPutBlocksUntilCapacityAvailableThenUnblocksOnRelease(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64)

	// Precompute the compressed size so the capacity chosen below admits
	// exactly one block and not two, regardless of zstd's actual ratio
	// on this payload.
	probe, err := New(0)
	if err != nil {
		t.Fatal(err)
	}
	oneBlock := int64(len(probe.CompressRaw(payload)))
	probe.Close()

	s, err := New(oneBlock + oneBlock/2)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// Fill capacity with a block that has no timestampMax, so releasing
	// it frees space immediately with no watermark dependency.
	h1, err := s.Put(context.Background(), 1, payload, 0, false)
	if err != nil {
		t.Fatal(err)
	}

	doneCh := make(chan error, 1)
	go func() {
		_, err := s.Put(context.Background(), 2, payload, 0, false)
		doneCh <- err
	}()

	select {
	case <-doneCh:
		t.Fatal("expected the second Put to block while capacity is exhausted")
	case <-time.After(100 * time.Millisecond):
	}

	s.Release(h1)

	select {
	case err := <-doneCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second Put did not unblock after the first block was released")
	}
}

func TestPutUnblocksOnContextCancellation(t *testing.T) {
	s, err := New(16)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	payload := bytes.Repeat([]byte("x"), 64)
	if _, err := s.Put(context.Background(), 1, payload, 0, false); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan error, 1)
	go func() {
		_, err := s.Put(ctx, 2, payload, 0, false)
		doneCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-doneCh:
		if err == nil {
			t.Fatal("expected the blocked Put to return an error once its context is cancelled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Put did not unblock after context cancellation")
	}
}
