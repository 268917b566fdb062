// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package transport defines the vtable the TX pipeline dispatches
// through. It plays the role the ethernet client's
// stack.LinkEndpoint/link.Controller pair plays for eth.Client: a
// narrow capability the engine holds by handle, with concrete
// protocols implementing it.
package transport

import (
	"net"

	"go.fuchsia.dev/sessionfwd/internal/bufferpool"
)

// Kind is a transport's framing discipline on the dequeue-mode TX path:
// DGRAM transports bound each datagram with a pre-header, STREAM
// transports dequeue plain bytes. Whether a session uses peek or
// dequeue mode is decided by its session.TransportKind, not by Kind.
type Kind int

const (
	Stream Kind = iota
	Dgram
)

// Conn is a single transport connection or listener, resolved from a
// session's ConnectionIndex. All methods are called from exactly one
// worker goroutine at a time per the single-threaded-worker model;
// implementations must still be safe to call from different worker
// goroutines for different connections.
type Conn interface {
	// SendMSS returns the maximum segment size the transport accepts
	// per outgoing segment. Zero means "not ready yet".
	SendMSS() uint16

	// SendSpace returns the bytes permitted right now; when >= MSS the
	// caller may assume it is a multiple of MSS.
	SendSpace() uint32

	// TxFifoOffset is the current retransmission offset for peek-mode
	// transports; meaningless for dequeue-mode ones.
	TxFifoOffset() uint32

	// PushHeader prepends the transport's wire header into head's
	// reserved headroom after segment lengths are finalized.
	PushHeader(head *bufferpool.Buffer)

	// SetRemote lifts a datagram's remote address onto an unconnected
	// (LISTENING) connection immediately before PushHeader is called so
	// the outgoing packet is addressed correctly. Mutating shared
	// per-connection state from a per-packet call is safe only under
	// the single-worker-thread assumption; any reader of this
	// connection from outside the owning worker would race. Out of
	// scope for this engine, which assumes single-threaded ownership.
	SetRemote(ip net.IP, port uint16)
}

// Vtable resolves a session's ConnectionIndex into a Conn, and reports
// which framing discipline it expects.
type Vtable interface {
	// GetConnection resolves an established connection, used by
	// peek-mode transports and by dequeue-mode ones whose session has
	// already left LISTENING.
	GetConnection(connIndex uint32, thread uint32) (Conn, bool)

	// GetListener resolves a listening (unconnected) endpoint, used by
	// dequeue-mode transports whose session is still in LISTENING
	// (unconnected send, e.g. UDP sendto before connect).
	GetListener(connIndex uint32) (Conn, bool)

	// TxType reports this transport's framing discipline.
	TxType() Kind
}
