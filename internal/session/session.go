// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package session holds the data model shared by the dispatch engine:
// the session itself, the events its FIFO carries, and the transport
// kind it is pinned to. A session is mutated only by the worker thread
// it is pinned to; none of the types here are safe for concurrent use
// from more than one goroutine.
package session

import "go.fuchsia.dev/sessionfwd/internal/fifo"

// State is a session's lifecycle state. TX eligibility is monotonic
// with respect to Ready/Closed: once a session reaches Ready it stays
// eligible for TX (TXEligible also holds when Closed), but a peek-mode
// TX event on a Closed session is dropped as fatal (see TXClosed).
type State int

const (
	Created State = iota
	Listening
	Connecting
	Ready
	Closed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Listening:
		return "listening"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportKind selects a session's TX path: Stream sessions take the
// peek-mode path, Dgram sessions the dequeue-mode path. Datagram
// pre-header framing is chosen separately, from the transport's
// transport.Kind.
type TransportKind int

const (
	Stream TransportKind = iota
	Dgram
)

// Family is the session's address family, carried alongside
// TransportKind to form the session's wire-type tuple. The engine
// never branches on it directly; transports do.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

// Type is the (transport, address-family) tuple identifying a session's
// wire discipline.
type Type struct {
	Transport TransportKind
	Family    Family
}

// Session is a logical endpoint pinned to exactly one worker thread for
// its entire lifetime. The session manager (external to this engine)
// creates and destroys sessions; the engine only reads them and mutates
// their FIFOs and state.
type Session struct {
	Index           uint32
	ThreadIndex     uint32
	Type            Type
	ConnectionIndex uint32

	// AppIndex identifies the builtin app this session belongs to. It is
	// the only app field (there is no separate opaque field); the
	// builtin-RX dispatch path reads it and the TX pipeline does not.
	AppIndex uint32

	RXFIFO fifo.FIFO
	TXFIFO fifo.FIFO

	state State
}

// New creates a session in the Created state.
func New(index, threadIndex uint32, typ Type, connIndex uint32, appIndex uint32, rx, tx fifo.FIFO) *Session {
	return &Session{
		Index:           index,
		ThreadIndex:     threadIndex,
		Type:            typ,
		ConnectionIndex: connIndex,
		AppIndex:        appIndex,
		RXFIFO:          rx,
		TXFIFO:          tx,
		state:           Created,
	}
}

func (s *Session) State() State     { return s.state }
func (s *Session) SetState(v State) { s.state = v }

// TXEligible reports whether a peek-mode (stream) TX handler may act on
// this session: state must have reached Ready. Dequeue-mode sessions
// ignore this gate entirely (see txpipeline's readiness check).
func (s *Session) TXEligible() bool { return s.state >= Ready }

// TXClosed reports whether the session is closed, the fatal condition
// for a peek-mode TX event (the event is dropped, not deferred).
func (s *Session) TXClosed() bool { return s.state == Closed }
