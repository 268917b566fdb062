// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package loopback is an in-process transport.Vtable/transport.Conn
// implementation plus a matching nextnode.Node, used by cmd/sessionfwd's
// demo as a stand-in for a real network stack (the txpipeline and
// worker tests use their own fakes). It is grounded in the ethernet client's write path
// (client.go's Send/WritePacket, which frames outgoing buffers and
// hands them to a fifo.Writer), generalized from a zircon ethernet FIFO
// handoff to an in-process port-addressed delivery between two
// loopback.Conns.
package loopback

import (
	"encoding/binary"
	"net"
	"sync"

	"go.fuchsia.dev/sessionfwd/internal/bufferpool"
	"go.fuchsia.dev/sessionfwd/internal/elog"
	"go.fuchsia.dev/sessionfwd/internal/fifo"
	"go.fuchsia.dev/sessionfwd/internal/nextnode"
	"go.fuchsia.dev/sessionfwd/internal/transport"
)

const tag = "loopback"

// HeaderLen is the loopback wire header: a 2-byte source port followed
// by a 2-byte destination port, the minimum needed to route a frame to
// its peer without a real IP/UDP/TCP stack underneath.
const HeaderLen = 4

// Conn is one end of an in-process connection, addressed by a fixed
// local/peer port pair. SendMSS/SendSpace are fixed at Dial time; a
// more faithful transport would shrink SendSpace as unacked bytes grow,
// but this one assumes every delivery lands immediately (see Node).
type Conn struct {
	localPort uint16
	peerPort  uint16

	remoteIP   net.IP
	remotePort uint16

	mss   uint16
	space uint32

	// txFifoOffset advances by exactly the bytes Node.PutNextFrame has
	// delivered for this Conn, standing in for ACK-driven advancement
	// on a real stream transport.
	txFifoOffset uint32
}

func (c *Conn) SendMSS() uint16      { return c.mss }
func (c *Conn) SendSpace() uint32    { return c.space }
func (c *Conn) TxFifoOffset() uint32 { return c.txFifoOffset }

// PushHeader writes the loopback routing header into the reserved
// headroom. Nothing checks the headroom in advance; Prepend panics if
// it is smaller than HeaderLen.
func (c *Conn) PushHeader(head *bufferpool.Buffer) {
	hdr := head.Prepend(HeaderLen)
	binary.BigEndian.PutUint16(hdr[0:2], c.localPort)
	binary.BigEndian.PutUint16(hdr[2:4], c.peerPort)
}

// SetRemote is only meaningful for an unconnected (LISTENING) Conn
// handed back by Transport.GetListener.
func (c *Conn) SetRemote(ip net.IP, port uint16) {
	c.remoteIP = ip
	c.remotePort = port
}

var _ transport.Conn = (*Conn)(nil)

// Transport is a registry of Conns sharing one in-process address
// space, keyed by local port. A Transport serves exactly one
// transport.Kind; a deployment wanting both stream and dgram loopback
// sessions creates two Transports, as cmd/sessionfwd's run command
// does.
type Transport struct {
	mu    sync.Mutex
	conns map[uint16]*Conn
	kind  transport.Kind
}

// NewTransport creates an empty registry for the given framing kind.
func NewTransport(kind transport.Kind) *Transport {
	return &Transport{conns: make(map[uint16]*Conn), kind: kind}
}

func (t *Transport) TxType() transport.Kind { return t.kind }

// Dial registers a connected Conn under localPort, addressed to
// peerPort, with a fixed window of space bytes at segment size mss.
// connIndex (for GetConnection/session.ConnectionIndex) is localPort
// widened to uint32, a simplification only valid because this
// transport's address space is one process.
func (t *Transport) Dial(localPort, peerPort uint16, mss uint16, space uint32) *Conn {
	c := &Conn{localPort: localPort, peerPort: peerPort, mss: mss, space: space}
	t.mu.Lock()
	t.conns[localPort] = c
	t.mu.Unlock()
	return c
}

// GetConnection resolves a previously Dialed Conn. thread is accepted
// to satisfy transport.Vtable but unused: this transport has no
// per-thread connection sharding.
func (t *Transport) GetConnection(connIndex uint32, thread uint32) (transport.Conn, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[uint16(connIndex)]
	return c, ok
}

// GetListener resolves a Conn whose session is still LISTENING; this
// transport does not distinguish listeners from connected Conns, so it
// delegates to the same registry.
func (t *Transport) GetListener(connIndex uint32) (transport.Conn, bool) {
	return t.GetConnection(connIndex, 0)
}

var _ transport.Vtable = (*Transport)(nil)

// Node delivers frames emitted by the TX pipeline straight into the
// destination Conn's peer RX FIFO, synchronously, within
// PutNextFrame. Because delivery never queues, GetNextFrame never
// needs to report backpressure; a transport modeling a real bounded
// downstream ring would track in-flight frames instead.
type Node struct {
	t      *Transport
	peerRX map[uint16]*fifo.ByteFIFO
	mu     sync.Mutex
}

// NewNode creates a Node that routes frames using t's port registry.
func NewNode(t *Transport) *Node {
	return &Node{t: t, peerRX: make(map[uint16]*fifo.ByteFIFO)}
}

// RegisterRX binds the RX FIFO a session listening on localPort reads
// from; PutNextFrame looks this up by the header's destination port.
func (n *Node) RegisterRX(localPort uint16, rx *fifo.ByteFIFO) {
	n.mu.Lock()
	n.peerRX[localPort] = rx
	n.mu.Unlock()
}

func (n *Node) GetNextFrame(_ int, want int) int { return want }

func (n *Node) PutNextFrame(_ int, head *bufferpool.Buffer) {
	raw := head.Bytes()
	if len(raw) < HeaderLen {
		elog.Warnf(tag, "frame shorter than header (%d bytes), dropping", len(raw))
		return
	}
	srcPort := binary.BigEndian.Uint16(raw[0:2])
	dstPort := binary.BigEndian.Uint16(raw[2:4])
	payload := raw[HeaderLen:]

	n.t.mu.Lock()
	src := n.t.conns[srcPort]
	n.t.mu.Unlock()
	if src != nil {
		src.txFifoOffset += uint32(len(payload))
	}

	n.mu.Lock()
	rx := n.peerRX[dstPort]
	n.mu.Unlock()
	if rx == nil {
		elog.Warnf(tag, "no RX fifo registered for port %d, dropping", dstPort)
		return
	}
	rx.Write(payload)
}

var _ nextnode.Node = (*Node)(nil)
