// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-messagetree.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package messagetree

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- test-only fixture encoder; the grammar has no production writer,
// but a round trip is still a property worth testing, so these helpers
// exist purely to build byte fixtures. ---

func encodeVarint(buf *bytes.Buffer, n uint64) {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			buf.WriteByte(b | 0x80)
		} else {
			buf.WriteByte(b)
			return
		}
	}
}

func encodeString(buf *bytes.Buffer, s string) {
	encodeVarint(buf, uint64(len(s)))
	buf.WriteString(s)
}

func encodeHeader(buf *bytes.Buffer, fields [10]string) {
	buf.WriteString("NT1")
	for _, f := range fields {
		encodeString(buf, f)
	}
}

func encodeLeaf(buf *bytes.Buffer, tag byte, ts uint64, typ, name, status, data string) {
	buf.WriteByte(tag)
	encodeVarint(buf, ts)
	encodeString(buf, typ)
	encodeString(buf, name)
	encodeString(buf, status)
	encodeString(buf, data)
}

type txFixture struct {
	ts             uint64
	typ, name      string
	children       func(buf *bytes.Buffer)
	status, data   string
	durationMicros uint64
}

func encodeTransaction(buf *bytes.Buffer, f txFixture) {
	buf.WriteByte(tagTransactionOpen)
	encodeVarint(buf, f.ts)
	encodeString(buf, f.typ)
	encodeString(buf, f.name)
	if f.children != nil {
		f.children(buf)
	}
	buf.WriteByte(tagTransactionClose)
	encodeString(buf, f.status)
	encodeString(buf, f.data)
	encodeVarint(buf, f.durationMicros)
}

func emptyHeader() [10]string { return [10]string{} }

func TestDecode_SingleLeafEvent(t *testing.T) {
	var buf bytes.Buffer
	encodeHeader(&buf, emptyHeader())
	encodeLeaf(&buf, tagEvent, 0, "type", "name", "status", "data")

	tree, err := Decode(&buf)
	require.NoError(t, err)

	require.Len(t, tree.Events, 1)
	assert.Empty(t, tree.Transactions)
	assert.Same(t, tree.Events[0], tree.Message)
	assert.Equal(t, "type", tree.Events[0].Type)
	assert.Equal(t, "name", tree.Events[0].Name)
	assert.Equal(t, "status", tree.Events[0].Status)
	assert.Equal(t, "data", tree.Events[0].Data)
}

func TestDecode_FlatTransaction(t *testing.T) {
	var buf bytes.Buffer
	encodeHeader(&buf, emptyHeader())
	encodeTransaction(&buf, txFixture{
		ts: 1, typ: "tx", name: "n",
		status: "ok", data: "", durationMicros: 1000,
	})

	tree, err := Decode(&buf)
	require.NoError(t, err)

	require.Len(t, tree.Transactions, 1)
	tx := tree.Transactions[0]
	assert.Equal(t, uint64(1), tx.DurationInMs)
	assert.Empty(t, tx.Children)
	assert.Same(t, tx, tree.Message)
}

func TestDecode_NestedTransaction(t *testing.T) {
	var buf bytes.Buffer
	encodeHeader(&buf, emptyHeader())
	encodeTransaction(&buf, txFixture{
		ts: 1, typ: "a", name: "x",
		children: func(buf *bytes.Buffer) {
			encodeLeaf(buf, tagEvent, 1, "t", "n", "s", "d")
			encodeTransaction(buf, txFixture{
				ts: 1, typ: "b", name: "y",
				status: "ok", data: "", durationMicros: 0,
			})
		},
		status: "ok", data: "", durationMicros: 0,
	})

	tree, err := Decode(&buf)
	require.NoError(t, err)

	require.Len(t, tree.Transactions, 2, "flat catalogue holds inner and outer")
	inner, outer := tree.Transactions[0], tree.Transactions[1]
	assert.Equal(t, "b", inner.Type)
	assert.Equal(t, "a", outer.Type)

	require.Len(t, outer.Children, 2, "one event, one inner transaction")
	_, isEvent := outer.Children[0].(*Event)
	assert.True(t, isEvent)
	assert.Same(t, inner, outer.Children[1])

	require.Len(t, tree.Events, 1)
	assert.Same(t, outer, tree.Message, "transactions catalogue wins representative selection")
}

func TestDecode_NameRewrite(t *testing.T) {
	tests := []struct {
		name     string
		typ      string
		txName   string
		expected string
	}{
		{"system type forces rewrite", "System", "Whatever", "UploadMetric"},
		{"name prefix forces rewrite", "custom", "UploadMetricFoo", "UploadMetric"},
		{"unrelated name untouched", "custom", "OtherName", "OtherName"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			encodeHeader(&buf, emptyHeader())
			encodeTransaction(&buf, txFixture{typ: tt.typ, name: tt.txName, status: "", data: ""})

			tree, err := Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, tree.Transactions[0].Name)
		})
	}
}

func TestDecode_HeaderFields(t *testing.T) {
	var buf bytes.Buffer
	encodeHeader(&buf, [10]string{
		"domain", "hostname", "ip", "tgn", "tid", "tname",
		"mid", "pmid", "rmid", "token",
	})
	encodeLeaf(&buf, tagHeartbeat, 0, "", "", "", "")

	tree, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, "domain", tree.Domain)
	assert.Equal(t, "hostname", tree.Hostname)
	assert.Equal(t, "ip", tree.IPAddress)
	assert.Equal(t, "tgn", tree.ThreadGroupName)
	assert.Equal(t, "tid", tree.ThreadID)
	assert.Equal(t, "tname", tree.ThreadName)
	assert.Equal(t, "mid", tree.MessageID)
	assert.Equal(t, "pmid", tree.ParentMessageID)
	assert.Equal(t, "rmid", tree.RootMessageID)
	assert.Equal(t, "token", tree.SessionToken)
}

func TestDecode_UnknownVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("XX1")
	_, err := Decode(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestDecode_UnknownMessageKind(t *testing.T) {
	var buf bytes.Buffer
	encodeHeader(&buf, emptyHeader())
	buf.WriteByte('Z')
	_, err := Decode(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownMessageKind)
}

func TestDecode_UnterminatedTransaction(t *testing.T) {
	var buf bytes.Buffer
	encodeHeader(&buf, emptyHeader())
	buf.WriteByte(tagTransactionOpen)
	encodeVarint(&buf, 0)
	encodeString(&buf, "t")
	encodeString(&buf, "n")
	// stream ends here, no matching 'T'

	_, err := Decode(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnterminatedTransaction)
}

func TestDecode_EmptyTree(t *testing.T) {
	var buf bytes.Buffer
	encodeHeader(&buf, emptyHeader())
	// no messages at all, clean EOF

	_, err := Decode(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyTree)
}

func TestDecode_InvalidUTF8InName(t *testing.T) {
	var buf bytes.Buffer
	encodeHeader(&buf, emptyHeader())
	buf.WriteByte(tagEvent)
	encodeVarint(&buf, 0)
	encodeString(&buf, "type")
	encodeVarint(&buf, 2)
	buf.Write([]byte{0xff, 0xfe}) // invalid utf-8 for name

	_, err := Decode(&buf)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestDecode_TransactionDataLossyUTF8Fallback(t *testing.T) {
	var buf bytes.Buffer
	encodeHeader(&buf, emptyHeader())
	buf.WriteByte(tagTransactionOpen)
	encodeVarint(&buf, 0)
	encodeString(&buf, "t")
	encodeString(&buf, "n")
	buf.WriteByte(tagTransactionClose)
	encodeString(&buf, "status")
	encodeVarint(&buf, 2)
	buf.Write([]byte{0xff, 0xfe}) // invalid utf-8 for transaction data: lossy fallback, not an error
	encodeVarint(&buf, 0)

	tree, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, tree.Transactions, 1)
	assert.NotEmpty(t, tree.Transactions[0].Data)
}

func TestReadVarint_OverflowSaturatesToZero(t *testing.T) {
	var buf bytes.Buffer
	// 11 continuation bytes followed by a terminator: drives the shift
	// past 64 bits, which must saturate to 0 rather than panic.
	for i := 0; i < 11; i++ {
		buf.WriteByte(0xff)
	}
	buf.WriteByte(0x01)

	n, err := readVarint(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestDecode_DeeplyNestedTransactions(t *testing.T) {
	const depth = 1000

	var inner func(buf *bytes.Buffer, remaining int)
	inner = func(buf *bytes.Buffer, remaining int) {
		if remaining == 0 {
			return
		}
		encodeTransaction(buf, txFixture{
			typ: "t", name: "n",
			children: func(buf *bytes.Buffer) { inner(buf, remaining-1) },
			status: "ok", data: "",
		})
	}

	var buf bytes.Buffer
	encodeHeader(&buf, emptyHeader())
	inner(&buf, depth)

	tree, err := Decode(&buf)
	require.NoError(t, err)
	assert.Len(t, tree.Transactions, depth)
}

func TestDecode_DurationFloorDivision(t *testing.T) {
	var buf bytes.Buffer
	encodeHeader(&buf, emptyHeader())
	encodeTransaction(&buf, txFixture{
		typ: "t", name: "n", status: "ok", data: "", durationMicros: 1999,
	})

	tree, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), tree.Transactions[0].DurationInMs)
}

func TestDecode_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	encodeHeader(&buf, [10]string{
		"d", "h", "ip", "tg", "ti", "tn", "mi", "pi", "ri", "st",
	})
	encodeTransaction(&buf, txFixture{
		ts: 5, typ: "outer", name: "root",
		children: func(buf *bytes.Buffer) {
			encodeLeaf(buf, tagMetric, 7, "m", "n", "s", "d")
		},
		status: "done", data: "payload", durationMicros: 2500,
	})

	first, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, first.Transactions, 1)
	require.Len(t, first.Transactions[0].Children, 1)

	// Re-encode the decoded tree and decode it again.
	tx := first.Transactions[0]
	leaf, ok := tx.Children[0].(*Metric)
	require.True(t, ok)
	var again bytes.Buffer
	encodeHeader(&again, [10]string{
		first.Domain, first.Hostname, first.IPAddress, first.ThreadGroupName, first.ThreadID,
		first.ThreadName, first.MessageID, first.ParentMessageID, first.RootMessageID, first.SessionToken,
	})
	encodeTransaction(&again, txFixture{
		ts: tx.TimestampInMs, typ: tx.Type, name: tx.Name,
		children: func(buf *bytes.Buffer) {
			encodeLeaf(buf, tagMetric, leaf.TimestampInMs, leaf.Type, leaf.Name, leaf.Status, leaf.Data)
		},
		status: tx.Status, data: tx.Data, durationMicros: tx.DurationInMs * 1000,
	})

	second, err := Decode(&again)
	require.NoError(t, err)

	assert.Equal(t, first.Domain, second.Domain)
	require.Len(t, second.Transactions, 1)
	assert.Equal(t, first.Transactions[0].DurationInMs, second.Transactions[0].DurationInMs)
	assert.Equal(t, first.Transactions[0].Data, second.Transactions[0].Data)
	require.Len(t, second.Transactions[0].Children, 1)
}
