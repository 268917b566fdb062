// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package worker

import (
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"go.fuchsia.dev/sessionfwd/internal/bufferpool"
	"go.fuchsia.dev/sessionfwd/internal/fifo"
	"go.fuchsia.dev/sessionfwd/internal/metrics"
	"go.fuchsia.dev/sessionfwd/internal/nextnode"
	"go.fuchsia.dev/sessionfwd/internal/session"
	"go.fuchsia.dev/sessionfwd/internal/transport"
)

type stubConn struct {
	mss   uint16
	space uint32
}

func (c *stubConn) SendMSS() uint16                  { return c.mss }
func (c *stubConn) SendSpace() uint32                { return c.space }
func (c *stubConn) TxFifoOffset() uint32             { return 0 }
func (c *stubConn) PushHeader(*bufferpool.Buffer)    {}
func (c *stubConn) SetRemote(ip net.IP, port uint16) {}

type stubVtable struct {
	conn *stubConn
	kind transport.Kind
}

func (v *stubVtable) GetConnection(uint32, uint32) (transport.Conn, bool) { return v.conn, true }
func (v *stubVtable) GetListener(uint32) (transport.Conn, bool)           { return v.conn, true }
func (v *stubVtable) TxType() transport.Kind                              { return v.kind }

func newTestEngine() (*Engine, *nextnode.Recorder) {
	rec := &nextnode.Recorder{Capacity: 16}
	pool := bufferpool.NewArena(64, 16)
	ctrs := metrics.New(prometheus.NewRegistry(), 0)
	e := New(0, 8, pool, rec, ctrs)
	e.RegisterVtable(session.Stream, &stubVtable{conn: &stubConn{mss: 8, space: 64}, kind: transport.Stream})
	return e, rec
}

func TestEngineTickDispatchesTX(t *testing.T) {
	e, rec := newTestEngine()

	tx := fifo.NewByteFIFO(64)
	tx.Write([]byte("some outbound bytes"))
	sess := session.New(1, 0, session.Type{Transport: session.Stream}, 1, 0, nil, tx)
	sess.SetState(session.Ready)
	e.RegisterSession(sess)

	e.Post(Event{Kind: TX, SessionIndex: 1})

	n := e.Tick()
	if n != 1 {
		t.Fatalf("Tick() dispatched %d events, want 1", n)
	}
	if len(rec.Frames) == 0 {
		t.Fatal("no frames emitted by the TX pipeline")
	}
}

func TestEngineDgramSessionWithStreamVtableUsesDequeueStream(t *testing.T) {
	rec := &nextnode.Recorder{Capacity: 16}
	pool := bufferpool.NewArena(64, 16)
	ctrs := metrics.New(prometheus.NewRegistry(), 0)
	e := New(0, 8, pool, rec, ctrs)
	// Dgram session kind routes into DequeueAndSend; a Stream-TxType
	// vtable registered for it exercises the dequeue-stream variant
	// rather than dequeue-datagram.
	e.RegisterVtable(session.Dgram, &stubVtable{conn: &stubConn{mss: 8, space: 64}, kind: transport.Stream})

	tx := fifo.NewByteFIFO(64)
	// 32 bytes: four whole 8-byte segments, so one tick drains it all.
	tx.Write([]byte("plain bytes with no dgram header"))
	sess := session.New(5, 0, session.Type{Transport: session.Dgram}, 5, 0, nil, tx)
	sess.SetState(session.Listening)
	e.RegisterSession(sess)

	e.Post(Event{Kind: TX, SessionIndex: 5})
	n := e.Tick()
	if n != 1 {
		t.Fatalf("Tick() dispatched %d events, want 1", n)
	}
	if len(rec.Frames) == 0 {
		t.Fatal("no frames emitted by the TX pipeline")
	}
	if tx.ReadableBytes() != 0 {
		t.Fatalf("ReadableBytes() = %d, want 0 (dequeue-stream is destructive)", tx.ReadableBytes())
	}
}

func TestEngineTickOnUnknownSessionDropsWithoutPanicking(t *testing.T) {
	e, _ := newTestEngine()
	e.Post(Event{Kind: TX, SessionIndex: 999})

	n := e.Tick()
	if n != 1 {
		t.Fatalf("Tick() dispatched %d events, want 1 (drop still counts as handled)", n)
	}
}

func TestEngineDeferredEventRetriedNextTick(t *testing.T) {
	e, _ := newTestEngine()

	tx := fifo.NewByteFIFO(64)
	tx.Write([]byte("data"))
	sess := session.New(2, 0, session.Type{Transport: session.Stream}, 2, 0, nil, tx)
	// Not Ready: PeekAndSend defers every time until the session becomes
	// eligible, exercising the pendingEvents retry path.
	e.RegisterSession(sess)
	e.Post(Event{Kind: TX, SessionIndex: 2})

	if n := e.Tick(); n != 0 {
		t.Fatalf("first Tick() dispatched %d, want 0 (deferred)", n)
	}
	if got := len(e.PendingSnapshot()); got != 1 {
		t.Fatalf("pending events = %d, want 1", got)
	}

	sess.SetState(session.Ready)
	if n := e.Tick(); n != 1 {
		t.Fatalf("second Tick() dispatched %d, want 1 once session is Ready", n)
	}
	if got := len(e.PendingSnapshot()); got != 0 {
		t.Fatalf("pending events after success = %d, want 0", got)
	}
}

func TestEngineDisconnectPostponedOnce(t *testing.T) {
	e, _ := newTestEngine()
	sess := session.New(3, 0, session.Type{Transport: session.Stream}, 3, 0, nil, fifo.NewByteFIFO(8))
	sess.SetState(session.Ready)
	e.RegisterSession(sess)

	e.Post(Event{Kind: Disconnect, SessionIndex: 3})
	if n := e.Tick(); n != 0 {
		t.Fatalf("Tick() with a fresh disconnect dispatched %d, want 0 (postponed)", n)
	}
	if _, ok := e.sessions[3]; !ok {
		t.Fatal("session was unregistered on the first (postponing) sighting")
	}

	if n := e.Tick(); n != 1 {
		t.Fatalf("Tick() with the postponed disconnect dispatched %d, want 1", n)
	}
	if _, ok := e.sessions[3]; ok {
		t.Fatal("session was not unregistered after the postponed disconnect ran")
	}
}

func TestEngineMaxPendingBacklogDropsOldest(t *testing.T) {
	e, _ := newTestEngine()
	e.MaxPendingBacklog = 1

	sess := session.New(4, 0, session.Type{Transport: session.Stream}, 4, 0, nil, fifo.NewByteFIFO(8))
	e.RegisterSession(sess) // left in Created state: every TX defers.

	e.Post(Event{Kind: TX, SessionIndex: 4})
	e.Post(Event{Kind: TX, SessionIndex: 4})
	e.Tick()

	if got := len(e.PendingSnapshot()); got != 1 {
		t.Fatalf("pending events = %d, want 1 (capped)", got)
	}
}

func TestEngineRPCEventInvokesFunc(t *testing.T) {
	e, _ := newTestEngine()
	called := false
	e.Post(Event{Kind: RPC, RPCFunc: func(arg interface{}) { called = true }, RPCArg: nil})

	if n := e.Tick(); n != 1 {
		t.Fatalf("Tick() dispatched %d, want 1", n)
	}
	if !called {
		t.Fatal("RPC function was not invoked")
	}
}
