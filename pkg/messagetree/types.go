// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-messagetree.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package messagetree decodes the "NT1" message-tree wire format: one
// header plus a nested tree of typed messages rooted at one or more
// top-level Transactions, Events, Metrics, Heartbeats and Traces.
//
// Decode (or a TreeReader built on top of it) is the only production
// entry point; there is no writer, by design.
package messagetree

// Message is the common interface implemented by all five message
// kinds. Children of a Transaction and the tree's flat per-kind
// catalogues hold the same pointer, so both views observe the same
// underlying value.
type Message interface {
	message()
}

// common holds the attributes shared by all five message kinds.
type common struct {
	Status        string
	Type          string
	Name          string
	TimestampInMs uint64
	Data          string
}

// Event is a leaf message with tag byte 'E'.
type Event struct{ common }

// Metric is a leaf message with tag byte 'M'.
type Metric struct{ common }

// Heartbeat is a leaf message with tag byte 'H'.
type Heartbeat struct{ common }

// Trace is a leaf message with tag byte 'L'.
type Trace struct{ common }

// Transaction is the only message kind that owns children. It is
// immutable once decoded: children are only ever appended while its
// open ('t') and close ('T') tags are being consumed.
type Transaction struct {
	common
	DurationInMs uint64
	Children     []Message
}

func (*Event) message()       {}
func (*Metric) message()      {}
func (*Heartbeat) message()   {}
func (*Trace) message()       {}
func (*Transaction) message() {}

// Status, Type, Name, TimestampInMs and Data accessors are intentionally
// exposed via the embedded common struct rather than methods: callers
// needing the kind-independent fields (the filter/query evaluator, JSON
// serialisation) can read m.(*Event).Status etc. after a type switch, or
// use the Common helper below for kind-agnostic access.

// Common returns the attributes shared by every message kind, regardless
// of which concrete type m holds.
func Common(m Message) (status, typ, name string, timestampInMs uint64, data string) {
	switch v := m.(type) {
	case *Event:
		return v.Status, v.Type, v.Name, v.TimestampInMs, v.Data
	case *Metric:
		return v.Status, v.Type, v.Name, v.TimestampInMs, v.Data
	case *Heartbeat:
		return v.Status, v.Type, v.Name, v.TimestampInMs, v.Data
	case *Trace:
		return v.Status, v.Type, v.Name, v.TimestampInMs, v.Data
	case *Transaction:
		return v.Status, v.Type, v.Name, v.TimestampInMs, v.Data
	default:
		return "", "", "", 0, ""
	}
}

// MessageTree aggregates one decoded NT1 record: header metadata, flat
// per-kind catalogues of every message seen, and a representative
// message chosen by selectRepresentative.
type MessageTree struct {
	Domain          string
	Hostname        string
	IPAddress       string
	ThreadGroupName string
	ThreadID        string
	ThreadName      string
	MessageID       string
	ParentMessageID string
	RootMessageID   string
	SessionToken    string

	Events       []*Event
	Transactions []*Transaction
	Heartbeats   []*Heartbeat
	Metrics      []*Metric
	Traces       []*Trace

	// Message is the representative handle selected after decode
	// completes: the last element of the first non-empty catalogue,
	// searched in the order transactions, events, metrics, heartbeats,
	// traces.
	Message Message
}
