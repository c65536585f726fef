// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-messagetree.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package messagetree

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

var versionTag = [3]byte{'N', 'T', '1'}

const (
	tagTransactionOpen  = 't'
	tagTransactionClose = 'T'
	tagEvent            = 'E'
	tagMetric           = 'M'
	tagHeartbeat        = 'H'
	tagTrace            = 'L'
)

// pendingTransaction accumulates a transaction's children while its
// open/close window is being decoded. It is frozen into an immutable
// *Transaction once the matching close tag is consumed.
type pendingTransaction struct {
	timestampInMs uint64
	typ           string
	name          string
	children      []Message
}

// Decode parses exactly one message record from r: the 3-byte version
// tag, 10 header strings, then the message loop. r must yield exactly
// one record's bytes. Framing (the 4-byte length prefix around each
// record) is a separate concern, handled by TreeReader.
func Decode(r io.Reader) (*MessageTree, error) {
	tree := &MessageTree{}
	if err := decodeHeader(tree, r); err != nil {
		return nil, err
	}
	if err := decodeMessages(tree, nil, r); err != nil {
		return nil, err
	}
	if err := selectRepresentative(tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func decodeHeader(tree *MessageTree, r io.Reader) error {
	var v [3]byte
	if _, err := io.ReadFull(r, v[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownVersion, err)
	}
	if v != versionTag {
		return fmt.Errorf("%w: got %q", ErrUnknownVersion, v[:])
	}

	fields := []*string{
		&tree.Domain, &tree.Hostname, &tree.IPAddress,
		&tree.ThreadGroupName, &tree.ThreadID, &tree.ThreadName,
		&tree.MessageID, &tree.ParentMessageID, &tree.RootMessageID,
		&tree.SessionToken,
	}
	for _, f := range fields {
		s, err := readString(r, "header field")
		if err != nil {
			return err
		}
		*f = s
	}
	return nil
}

// decodeMessages consumes messages until it sees a close tag (when
// parent is non-nil) or clean end of stream (when parent is nil, i.e.
// at the top of the tree).
func decodeMessages(tree *MessageTree, parent *pendingTransaction, r io.Reader) error {
	for {
		tag, err := readByte(r)
		if err == io.EOF {
			if parent != nil {
				return ErrUnterminatedTransaction
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("message tag: %v", err)
		}

		switch tag {
		case tagTransactionOpen:
			if err := decodeTransaction(tree, parent, r); err != nil {
				return err
			}
		case tagTransactionClose:
			return nil
		case tagEvent, tagMetric, tagHeartbeat, tagTrace:
			if err := decodeLeaf(tree, parent, r, tag); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: tag byte %#x", ErrUnknownMessageKind, tag)
		}
	}
}

func decodeLeaf(tree *MessageTree, parent *pendingTransaction, r io.Reader, tag byte) error {
	c, err := decodeCommon(r)
	if err != nil {
		return err
	}

	var m Message
	switch tag {
	case tagEvent:
		e := &Event{common: c}
		m = e
		tree.Events = append(tree.Events, e)
	case tagMetric:
		mm := &Metric{common: c}
		m = mm
		tree.Metrics = append(tree.Metrics, mm)
	case tagHeartbeat:
		h := &Heartbeat{common: c}
		m = h
		tree.Heartbeats = append(tree.Heartbeats, h)
	case tagTrace:
		t := &Trace{common: c}
		m = t
		tree.Traces = append(tree.Traces, t)
	}

	if parent != nil {
		parent.children = append(parent.children, m)
	}
	return nil
}

// decodeCommon reads the fixed leaf layout: timestamp, type, name,
// status, data (all strings except the varint timestamp).
func decodeCommon(r io.Reader) (common, error) {
	ts, err := readVarint(r)
	if err != nil {
		return common{}, err
	}
	typ, err := readString(r, "type")
	if err != nil {
		return common{}, err
	}
	name, err := readString(r, "name")
	if err != nil {
		return common{}, err
	}
	status, err := readString(r, "status")
	if err != nil {
		return common{}, err
	}
	data, err := readString(r, "data")
	if err != nil {
		return common{}, err
	}
	return common{Status: status, Type: typ, Name: name, TimestampInMs: ts, Data: data}, nil
}

// decodeTransaction reads a transaction's open fields, recurses into its
// children until the matching close tag, then reads its trailing fields
// and freezes it. It is appended to the tree's flat catalogue and, if
// nested, to its parent's children, both in post-order, on close.
func decodeTransaction(tree *MessageTree, parent *pendingTransaction, r io.Reader) error {
	ts, err := readVarint(r)
	if err != nil {
		return err
	}
	typ, err := readString(r, "type")
	if err != nil {
		return err
	}
	name, err := readString(r, "name")
	if err != nil {
		return err
	}

	// Name rewrite: preserves a server-side aggregation key.
	if typ == "System" || strings.HasPrefix(name, "UploadMetric") {
		name = "UploadMetric"
	}

	self := &pendingTransaction{timestampInMs: ts, typ: typ, name: name}
	if err := decodeMessages(tree, self, r); err != nil {
		return err
	}

	status, err := readString(r, "status")
	if err != nil {
		return err
	}
	data, err := readTransactionData(r)
	if err != nil {
		return err
	}
	durationUs, err := readVarint(r)
	if err != nil {
		return err
	}

	t := &Transaction{
		common: common{
			Status:        status,
			Type:          typ,
			Name:          name,
			TimestampInMs: ts,
			Data:          data,
		},
		DurationInMs: durationUs / 1000,
		Children:     self.children,
	}

	if parent != nil {
		parent.children = append(parent.children, t)
	}
	tree.Transactions = append(tree.Transactions, t)
	return nil
}

// selectRepresentative picks the tree's representative message.
func selectRepresentative(tree *MessageTree) error {
	switch {
	case len(tree.Transactions) > 0:
		tree.Message = tree.Transactions[len(tree.Transactions)-1]
	case len(tree.Events) > 0:
		tree.Message = tree.Events[len(tree.Events)-1]
	case len(tree.Metrics) > 0:
		tree.Message = tree.Metrics[len(tree.Metrics)-1]
	case len(tree.Heartbeats) > 0:
		tree.Message = tree.Heartbeats[len(tree.Heartbeats)-1]
	case len(tree.Traces) > 0:
		tree.Message = tree.Traces[len(tree.Traces)-1]
	default:
		return ErrEmptyTree
	}
	return nil
}

// --- primitives ---

func readByte(r io.Reader) (byte, error) {
	if br, ok := r.(io.ByteReader); ok {
		return br.ReadByte()
	}
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// readVarint decodes an unsigned LEB128 integer. A shift that would
// overflow 64 bits saturates the result to 0 and stops, logging a
// warning: defensive against malformed input rather than a hard failure.
func readVarint(r io.Reader) (uint64, error) {
	var n uint64
	var shift uint
	for {
		b, err := readByte(r)
		if err != nil {
			return 0, fmt.Errorf("varint: %v", err)
		}
		if b < 0x80 {
			if shift >= 64 {
				cclog.Warnf("messagetree: varint shift overflow, saturating to 0")
				return 0, nil
			}
			return n | (uint64(b) << shift), nil
		}
		if shift >= 64 {
			cclog.Warnf("messagetree: varint shift overflow, saturating to 0")
			return 0, nil
		}
		n |= (uint64(b) & 0x7f) << shift
		shift += 7
	}
}

// readString decodes a varint-length-prefixed UTF-8 string. Invalid
// UTF-8 is a hard failure for every field except a transaction's data,
// see readTransactionData.
func readString(r io.Reader, field string) (string, error) {
	length, err := readVarint(r)
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%s: %v", field, err)
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%w: field %q", ErrInvalidUTF8, field)
	}
	return string(buf), nil
}

// readTransactionData decodes the varint-length-prefixed raw bytes used
// for a transaction's data field. Invalid UTF-8 is relaxed to a lossy
// replacement with a logged warning, rather than a hard failure.
func readTransactionData(r io.Reader) (string, error) {
	length, err := readVarint(r)
	if err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("data: %v", err)
	}
	if utf8.Valid(buf) {
		return string(buf), nil
	}
	cclog.Warnf("messagetree: transaction data is not valid utf-8, using lossy replacement")
	return strings.ToValidUTF8(string(buf), "�"), nil
}
