// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-messagetree.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package snappystream decodes a single message-tree block into a
// continuous decompressed byte stream. The block carries its own small
// framing: a 16-byte opaque header followed by length-prefixed
// Snappy-compressed chunks. Each chunk is compressed with the
// block-level Snappy codec, not the upstream "framed snappy" stream
// format, so golang/snappy's Decode/Encode are used directly rather than
// its Reader/Writer.
package snappystream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ClusterCockpit/cc-messagetree/internal/frame"
	"github.com/ClusterCockpit/cc-messagetree/pkg/messagetree"
	"github.com/golang/snappy"
)

// headerSize is the opaque magic/version header every block starts with.
const headerSize = 16

// Reader presents the decompressed content of one block as an io.Reader.
type Reader struct {
	chunks    *bytes.Reader
	buf       []byte
	exhausted bool
}

// New consumes and discards the block's 16-byte header and returns a
// Reader over the remainder.
func New(block []byte) (*Reader, error) {
	if len(block) < headerSize {
		return nil, fmt.Errorf("%w: block is %d bytes, shorter than the %d-byte snappy header",
			messagetree.ErrTruncatedStream, len(block), headerSize)
	}
	return &Reader{chunks: bytes.NewReader(block[headerSize:])}, nil
}

// fillMore decompresses one more chunk into the staging buffer, or marks
// the stream exhausted once the block's chunk sequence ends cleanly.
func (r *Reader) fillMore() error {
	chunk, err := frame.ReadFrame(r.chunks, "snappy chunk")
	if err != nil {
		if err == io.EOF {
			r.exhausted = true
			return nil
		}
		return fmt.Errorf("%w: %v", messagetree.ErrTruncatedStream, err)
	}

	decoded, err := snappy.Decode(nil, chunk)
	if err != nil {
		return fmt.Errorf("%w: %v", messagetree.ErrSnappyDecompress, err)
	}
	r.buf = append(r.buf, decoded...)
	return nil
}

// Read implements io.Reader. It returns the partial residue once the
// block is exhausted rather than silently truncating to zero: callers
// should treat a short non-error read the same as any other io.Reader
// and loop until io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.buf) < len(p) && !r.exhausted {
		if err := r.fillMore(); err != nil {
			return 0, err
		}
	}

	if len(r.buf) == 0 {
		return 0, io.EOF
	}

	n := len(p)
	if len(r.buf) < n {
		n = len(r.buf)
	}
	copy(p, r.buf[:n])
	r.buf = r.buf[n:]
	return n, nil
}
