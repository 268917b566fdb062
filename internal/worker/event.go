// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package worker

// Kind is a session FIFO event's variant. Application-originated RX
// events are not handled by this engine, so they have no constant
// here.
type Kind int

const (
	TX Kind = iota
	BuiltinRX
	Disconnect
	RPC
)

func (k Kind) String() string {
	switch k {
	case TX:
		return "tx"
	case BuiltinRX:
		return "builtin_rx"
	case Disconnect:
		return "disconnect"
	case RPC:
		return "rpc"
	default:
		return "unknown"
	}
}

// Event is one unit of work drained from the mailbox or a deferred
// queue. Only the fields relevant to Kind are populated.
type Event struct {
	Kind Kind

	// SessionIndex identifies the session for TX/BuiltinRX/Disconnect,
	// resolved against the engine's per-thread session table.
	SessionIndex uint32

	// Postponed is DISCONNECT's one-shot postponement bit: forced
	// false->true on first sight so that any TX events for the same
	// session drained in the same batch are processed first.
	Postponed bool

	// RPCFunc/RPCArg back an RPC event: an opaque function pointer plus
	// argument, invoked directly by the dispatcher.
	RPCFunc func(arg interface{})
	RPCArg  interface{}
}
