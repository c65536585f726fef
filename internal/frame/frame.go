// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-messagetree.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package frame implements the single length-prefix framing scheme reused
// at all three nested levels of the message-tree wire format: top-level
// file blocks, Snappy chunks inside a block, and tree records inside a
// decompressed Snappy stream. Each frame is a 4-byte big-endian signed
// length followed by exactly that many bytes.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ReadFrame reads one length-prefixed frame from r. A clean end of stream
// before any length byte is read returns (nil, io.EOF). A short read while
// reading the length or the body is fatal and the returned error wraps
// cause using the given context label for diagnosability.
func ReadFrame(r io.Reader, context string) ([]byte, error) {
	var lenBuf [4]byte
	n, err := io.ReadFull(r, lenBuf[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%s: truncated length prefix: %w", context, err)
	}

	length := int32(binary.BigEndian.Uint32(lenBuf[:]))
	if length < 0 {
		return nil, fmt.Errorf("%s: negative frame length %d", context, length)
	}
	if length == 0 {
		return []byte{}, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%s: truncated body (want %d bytes): %w", context, length, err)
	}
	return body, nil
}
