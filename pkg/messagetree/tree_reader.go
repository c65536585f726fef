// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-messagetree.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package messagetree

import (
	"bytes"
	"io"

	"github.com/ClusterCockpit/cc-messagetree/internal/frame"
)

// TreeReader repeatedly pulls one length-prefixed message record from a
// decompressed Snappy stream and decodes it. Each record is framed with
// its own 4-byte big-endian length prefix inside the decompressed
// stream, the same framing used at the other two nesting levels.
type TreeReader struct {
	r io.Reader
}

// NewTreeReader wraps a decompressed byte stream (typically a
// *snappystream.Reader) for repeated tree decoding.
func NewTreeReader(r io.Reader) *TreeReader {
	return &TreeReader{r: r}
}

// Next decodes the next tree record, or returns io.EOF once the stream
// is cleanly exhausted.
func (tr *TreeReader) Next() (*MessageTree, error) {
	body, err := frame.ReadFrame(tr.r, "tree record")
	if err != nil {
		return nil, err
	}
	return Decode(bytes.NewReader(body))
}
