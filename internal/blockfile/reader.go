// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-messagetree.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package blockfile opens a message-tree dump file and yields its
// Snappy-framed blocks one at a time.
package blockfile

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-messagetree/internal/frame"
	"github.com/ClusterCockpit/cc-messagetree/pkg/messagetree"
)

// readerBufferSize is the minimum buffered-reader size for this format.
const readerBufferSize = 1 << 20 // 1 MiB

const fileMagic int32 = -1

// Reader produces the lazy sequence of opaque compressed blocks that make
// up a message-tree dump file.
type Reader struct {
	f  *os.File
	br *bufio.Reader
}

// Open validates the file magic and returns a Reader positioned at the
// first block.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blockfile: open %q: %w", path, err)
	}

	br := bufio.NewReaderSize(f, readerBufferSize)

	var magicBuf [4]byte
	if _, err := io.ReadFull(br, magicBuf[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockfile: read magic: %w", err)
	}
	magic := int32(binary.BigEndian.Uint32(magicBuf[:]))
	if magic != fileMagic {
		f.Close()
		return nil, fmt.Errorf("%w: got %d, want %d", messagetree.ErrBadFileMagic, magic, fileMagic)
	}
	cclog.Debugf("blockfile: opened %q, magic ok", path)

	return &Reader{f: f, br: br}, nil
}

// Next returns the next block's raw bytes, or io.EOF once the file is
// cleanly exhausted.
func (r *Reader) Next() ([]byte, error) {
	block, err := frame.ReadFrame(r.br, "block")
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", messagetree.ErrTruncatedBlock, err)
	}
	return block, nil
}

// Close releases the underlying file handle. The reader goroutine is the
// sole owner of the file handle and must call Close exactly once,
// whether the source was exhausted cleanly or aborted on error.
func (r *Reader) Close() error {
	return r.f.Close()
}
