// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-messagetree.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package treedump implements the bounded producer/N-consumer pipeline
// that parallelises Snappy decompression and tree decoding. A single
// reader goroutine feeds a bounded block channel; N decoder goroutines
// drain it and push decoded trees onto a bounded output channel that a
// downstream consumer drains.
package treedump

import (
	"context"
	"io"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-messagetree/internal/blockfile"
	"github.com/ClusterCockpit/cc-messagetree/internal/snappystream"
	"github.com/ClusterCockpit/cc-messagetree/pkg/messagetree"
	"golang.org/x/sync/errgroup"
)

const (
	readerSendTimeout  = 5 * time.Second
	decoderSendTimeout = 5 * time.Millisecond
	decoderRecvTimeout = 5 * time.Millisecond
)

// Item is one slot on the output channel. Carrying an explicit Err lets
// a consumer distinguish clean channel closure from an error-truncated
// run.
type Item struct {
	Tree *messagetree.MessageTree
	Err  error
}

// Run opens path and starts the pipeline: one block-reader goroutine and
// cfg.DecodingThreads decoder goroutines, wired through channels sized
// per cfg. The returned channel closes once the reader and every decoder
// have exited. Go has no receiver-disconnect signal on a channel send, so
// ctx cancellation is this pipeline's stand-in for "downstream closed the
// tree channel": callers that stop reading from the returned channel
// should also cancel ctx, or goroutines will block on send until their
// liveness timeout and retry indefinitely.
func Run(ctx context.Context, path string, cfg Config) (<-chan Item, error) {
	reader, err := blockfile.Open(path)
	if err != nil {
		return nil, err
	}

	blockCh := make(chan []byte, cfg.BlockReaderChannelBufferSize)
	treeCh := make(chan Item, cfg.TreeDecoderChannelBufferSize)

	var g errgroup.Group

	g.Go(func() error {
		err := runBlockReader(ctx, reader, blockCh)
		if err != nil {
			trySend(ctx, treeCh, Item{Err: err}, readerSendTimeout, "treedump: waiting to report block reader error")
		}
		return err
	})

	threads := cfg.DecodingThreads
	if threads < 1 {
		threads = 1
	}
	for i := 0; i < threads; i++ {
		id := i
		g.Go(func() error {
			return runDecoder(ctx, id, blockCh, treeCh)
		})
	}

	go func() {
		if err := g.Wait(); err != nil {
			cclog.Errorf("treedump: pipeline worker exited with error: %v", err)
		}
		close(treeCh)
	}()

	return treeCh, nil
}

// runBlockReader drives the file frame reader to completion, feeding
// blockCh in file order.
func runBlockReader(ctx context.Context, reader *blockfile.Reader, blockCh chan<- []byte) error {
	defer reader.Close()
	defer close(blockCh)

	for {
		block, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			cclog.Errorf("treedump: block reader: %v", err)
			return err
		}

		if !trySend(ctx, blockCh, block, readerSendTimeout, "treedump: reading blocks too fast") {
			return nil
		}
	}
}

// runDecoder consumes blocks from blockCh, decodes every tree in each
// one, and pushes them to treeCh. A fatal decode error terminates this
// goroutine; the other decoder goroutines are unaffected.
func runDecoder(ctx context.Context, id int, blockCh <-chan []byte, treeCh chan<- Item) error {
	for {
		block, ok, cancelled := tryRecv(ctx, blockCh, decoderRecvTimeout, id)
		if cancelled {
			return nil
		}
		if !ok {
			return nil
		}

		if err := decodeBlock(ctx, block, treeCh); err != nil {
			return err
		}
	}
}

// decodeBlock decodes every tree record in one block. Any fatal decode
// error is surfaced as an Item (so a consumer watching the channel sees
// it) and then returned to the caller, which ends this worker's loop.
func decodeBlock(ctx context.Context, block []byte, treeCh chan<- Item) error {
	sr, err := snappystream.New(block)
	if err != nil {
		cclog.Errorf("treedump: snappy stream: %v", err)
		trySend(ctx, treeCh, Item{Err: err}, decoderSendTimeout, "treedump: decoding too fast")
		return err
	}

	tr := messagetree.NewTreeReader(sr)
	for {
		tree, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			cclog.Errorf("treedump: tree decode: %v", err)
			trySend(ctx, treeCh, Item{Err: err}, decoderSendTimeout, "treedump: decoding too fast")
			return err
		}

		if !trySend(ctx, treeCh, Item{Tree: tree}, decoderSendTimeout, "treedump: decoding too fast") {
			return nil
		}
	}
}

// trySend attempts a bounded-time send, logging and retrying the same
// value on timeout, and returning false once ctx is cancelled (this
// pipeline's equivalent of the receiver disconnecting).
func trySend[T any](ctx context.Context, ch chan<- T, v T, timeout time.Duration, idleMsg string) bool {
	for {
		select {
		case ch <- v:
			return true
		case <-ctx.Done():
			return false
		case <-time.After(timeout):
			cclog.Infof("%s", idleMsg)
		}
	}
}

// tryRecv attempts a bounded-time receive. ok is false once blockCh is
// closed (the reader is exhausted); cancelled is true once ctx ends.
func tryRecv[T any](ctx context.Context, ch <-chan T, timeout time.Duration, workerID int) (v T, ok bool, cancelled bool) {
	for {
		select {
		case v, ok = <-ch:
			return v, ok, false
		case <-ctx.Done():
			return v, false, true
		case <-time.After(timeout):
			cclog.Infof("treedump: decoder %d waiting for new block", workerID)
		}
	}
}
