// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-messagetree.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package messagetree

import "errors"

// Sentinel errors for the decode pipeline. Lower layers (file I/O,
// Snappy decompression, UTF-8 validation) wrap one of these with
// fmt.Errorf("%w: ...", ...) so callers can errors.Is against a stable
// taxonomy regardless of which layer raised it.
var (
	ErrBadFileMagic            = errors.New("messagetree: bad file magic")
	ErrTruncatedBlock          = errors.New("messagetree: truncated block")
	ErrTruncatedStream         = errors.New("messagetree: truncated snappy stream")
	ErrSnappyDecompress        = errors.New("messagetree: snappy decompress failed")
	ErrUnknownVersion          = errors.New("messagetree: unknown version")
	ErrUnknownMessageKind      = errors.New("messagetree: unknown message kind")
	ErrUnterminatedTransaction = errors.New("messagetree: unterminated transaction")
	ErrInvalidUTF8             = errors.New("messagetree: invalid utf-8")
	ErrEmptyTree               = errors.New("messagetree: empty tree")
)
