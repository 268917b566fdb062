// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package txpipeline is the core of the engine: for one TX event it
// checks session readiness, resolves the transport, sizes a batch
// against MSS/window/buffer-pool/frame budget, copies bytes out of the
// session's TX FIFO into buffer chains, lets the transport prepend its
// header, and emits the frames to the next node.
//
// It is grounded in the ethernet client's send path (AllocForSend,
// Send, txCompleteLocked in link/eth/client.go), generalized from a
// single fixed-entry hardware FIFO handshake to MSS/window-aware batch
// sizing against a byte FIFO, plus datagram pre-header framing for the
// dequeue-mode path.
package txpipeline

import (
	"go.fuchsia.dev/sessionfwd/internal/bufferpool"
	"go.fuchsia.dev/sessionfwd/internal/dgram"
	"go.fuchsia.dev/sessionfwd/internal/elog"
	"go.fuchsia.dev/sessionfwd/internal/metrics"
	"go.fuchsia.dev/sessionfwd/internal/nextnode"
	"go.fuchsia.dev/sessionfwd/internal/session"
	"go.fuchsia.dev/sessionfwd/internal/transport"
)

const tag = "txpipeline"

// Result is the {ok, defer, fatal} outcome a TX handler invocation exposes.
type Result int

const (
	OK Result = iota
	Defer
	Fatal
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case Defer:
		return "defer"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the full result of one TX handler invocation.
type Outcome struct {
	Result      Result
	SegsEmitted int
	// SelfKick is true when more data remains in the FIFO after this
	// tick and no event was already pending on it, so the caller must
	// enqueue a fresh TX event for this session.
	SelfKick bool
}

// Pipeline is the per-worker-thread scratch state: one owned struct
// per worker, not a global array indexed by thread index.
type Pipeline struct {
	thread uint32
	pool   bufferpool.Pool
	next   nextnode.Node
	ctrs   *metrics.Counters

	// txBuffers is the per-thread LIFO reuse cache: buffers provisioned
	// for a batch but not yet consumed carry over to the next call
	// instead of being returned to the pool immediately.
	txBuffers []*bufferpool.Buffer
}

// New creates a Pipeline for one worker thread.
func New(thread uint32, pool bufferpool.Pool, next nextnode.Node, ctrs *metrics.Counters) *Pipeline {
	return &Pipeline{thread: thread, pool: pool, next: next, ctrs: ctrs}
}

// batch holds the sizing parameters computed by setDequeueParams
// local to one call.
type batch struct {
	maxDequeue     uint32
	txOffset       uint32
	maxLenToSnd    uint32
	nSegsPerEvt    int
	nBufsPerSeg    int
	deqPerBuf      int
	deqPerFirstBuf int
	leftToSnd      uint32

	dgramHdr  dgram.Header
	haveDgram bool
}

// PeekAndSend is the peek-mode (retransmit-capable) TX path used by
// stream sessions: data stays in the FIFO until the transport
// acknowledges it, and txOffset advances independently of the FIFO's
// own head.
func (p *Pipeline) PeekAndSend(nextIndex int, sess *session.Session, vt transport.Vtable, maxSegs int) Outcome {
	if sess.TXClosed() {
		// Fatal: drop without deferring, no FIFO mutation, no counters.
		return Outcome{Result: Fatal}
	}
	if !sess.TXEligible() {
		return Outcome{Result: Defer}
	}

	conn, ok := p.resolveConn(sess, vt)
	if !ok {
		return Outcome{Result: Defer}
	}
	mss, space := conn.SendMSS(), conn.SendSpace()
	if mss == 0 || space == 0 {
		return Outcome{Result: Defer}
	}

	sess.TXFIFO.UnsetEvent()

	b := batch{}
	b.maxDequeue = sess.TXFIFO.ReadableBytes()
	b.txOffset = conn.TxFifoOffset()
	if b.txOffset >= b.maxDequeue {
		return Outcome{Result: OK}
	}
	b.maxDequeue -= b.txOffset
	if !sizeWindow(&b, mss, space, maxSegs) {
		return Outcome{Result: OK}
	}
	sizeBuffers(&b, p.pool.BufferSize(), conn)

	_, ok = p.provision(&b)
	if !ok {
		p.ctrs.NoBuffer.Inc()
		return Outcome{Result: Defer}
	}

	n := p.emit(nextIndex, &b, func(dst []byte) int {
		off := b.txOffset
		got, _ := sess.TXFIFO.Peek(off, dst)
		b.txOffset += uint32(got)
		return got
	}, conn, sess)

	selfKick := false
	if b.maxLenToSnd < b.maxDequeue {
		// More data remains in the FIFO beyond what this batch covered;
		// self-kick unless an event is already pending on it.
		if sess.TXFIFO.SetEvent() {
			selfKick = true
		}
	}

	p.ctrs.TX.Add(float64(n))
	return Outcome{Result: OK, SegsEmitted: n, SelfKick: selfKick}
}

// DequeueAndSend is the dequeue-mode TX path: bytes are removed from
// the FIFO as soon as they are copied, unlike PeekAndSend's
// retransmit-capable offset tracking. It branches on the transport's
// TxType to pick one of the two dequeue variants: dequeue-datagram for
// DGRAM transports, where a fixed pre-header bounds each logical
// datagram's extent, and dequeue-stream for STREAM transports run in
// dequeue mode, where the whole batch is just the next readable bytes
// with no per-datagram framing.
func (p *Pipeline) DequeueAndSend(nextIndex int, sess *session.Session, vt transport.Vtable, maxSegs int) Outcome {
	var conn transport.Conn
	var ok bool
	listening := sess.State() == session.Listening
	if listening {
		conn, ok = vt.GetListener(sess.ConnectionIndex)
	} else {
		conn, ok = vt.GetConnection(sess.ConnectionIndex, sess.ThreadIndex)
	}
	if !ok {
		return Outcome{Result: Defer}
	}
	mss, space := conn.SendMSS(), conn.SendSpace()
	if mss == 0 || space == 0 {
		return Outcome{Result: Defer}
	}

	sess.TXFIFO.UnsetEvent()

	if vt.TxType() == transport.Dgram {
		return p.dequeueDatagram(nextIndex, sess, conn, listening, mss, space, maxSegs)
	}
	return p.dequeueStream(nextIndex, sess, conn, mss, space, maxSegs)
}

// dequeueDatagram is DequeueAndSend's DGRAM-transport path: each call
// consumes exactly one logical datagram, bounded by its pre-header,
// possibly across several ticks if the window can't cover it in one.
func (p *Pipeline) dequeueDatagram(nextIndex int, sess *session.Session, conn transport.Conn, listening bool, mss uint16, space uint32, maxSegs int) Outcome {
	b := batch{}
	hdr, ok := dgram.Peek(sess.TXFIFO, 0)
	if !ok {
		return Outcome{Result: OK}
	}
	b.haveDgram = true
	b.dgramHdr = hdr
	b.maxDequeue = hdr.Remaining()
	if b.maxDequeue == 0 {
		return Outcome{Result: OK}
	}
	if !sizeWindow(&b, mss, space, maxSegs) {
		return Outcome{Result: OK}
	}
	sizeBuffers(&b, p.pool.BufferSize(), conn)

	_, ok = p.provision(&b)
	if !ok {
		p.ctrs.NoBuffer.Inc()
		return Outcome{Result: Defer}
	}

	if listening {
		conn.SetRemote(hdr.RemoteIP, hdr.RemotePort)
	}

	n := p.emit(nextIndex, &b, func(dst []byte) int {
		got, _ := sess.TXFIFO.Peek(dgram.HdrLen+b.dgramHdr.DataOffset, dst)
		b.dgramHdr.DataOffset += uint32(got)
		return got
	}, conn, sess)

	selfKick := false
	if b.dgramHdr.Done() {
		sess.TXFIFO.DequeueDrop(b.dgramHdr.DataLength + dgram.HdrLen)
		if sess.TXFIFO.ReadableBytes() > 0 {
			if sess.TXFIFO.SetEvent() {
				selfKick = true
			}
		}
	} else {
		dgram.Overwrite(sess.TXFIFO, b.dgramHdr)
		if sess.TXFIFO.SetEvent() {
			selfKick = true
		}
	}

	p.ctrs.TX.Add(float64(n))
	return Outcome{Result: OK, SegsEmitted: n, SelfKick: selfKick}
}

// dequeueStream is DequeueAndSend's STREAM-transport path: no
// pre-header, no retransmit offset. Readable bytes decrease by
// exactly the batch's max_len_to_snd, since every byte read is
// dequeued (removed), not peeked.
func (p *Pipeline) dequeueStream(nextIndex int, sess *session.Session, conn transport.Conn, mss uint16, space uint32, maxSegs int) Outcome {
	b := batch{}
	b.maxDequeue = sess.TXFIFO.ReadableBytes()
	if !sizeWindow(&b, mss, space, maxSegs) {
		return Outcome{Result: OK}
	}
	sizeBuffers(&b, p.pool.BufferSize(), conn)

	_, ok := p.provision(&b)
	if !ok {
		p.ctrs.NoBuffer.Inc()
		return Outcome{Result: Defer}
	}

	n := p.emit(nextIndex, &b, func(dst []byte) int {
		got, _ := sess.TXFIFO.Dequeue(dst)
		return got
	}, conn, sess)

	selfKick := false
	if sess.TXFIFO.ReadableBytes() > 0 {
		if sess.TXFIFO.SetEvent() {
			selfKick = true
		}
	}

	p.ctrs.TX.Add(float64(n))
	return Outcome{Result: OK, SegsEmitted: n, SelfKick: selfKick}
}

func (p *Pipeline) resolveConn(sess *session.Session, vt transport.Vtable) (transport.Conn, bool) {
	return vt.GetConnection(sess.ConnectionIndex, sess.ThreadIndex)
}

// sizeWindow picks how much of the FIFO this batch will cover, bounded
// by the transport's window and segmented to whole MSS units. It returns false
// when there is nothing to send (caller should return OK/no-op).
func sizeWindow(b *batch, mss uint16, space uint32, maxSegs int) bool {
	if b.maxDequeue == 0 {
		return false
	}
	switch {
	case b.maxDequeue < space:
		if b.maxDequeue > uint32(mss) {
			b.maxLenToSnd = (b.maxDequeue / uint32(mss)) * uint32(mss)
		} else {
			b.maxLenToSnd = b.maxDequeue
		}
	default:
		b.maxLenToSnd = space
	}
	if b.maxLenToSnd == 0 {
		return false
	}
	nSegs := int((b.maxLenToSnd + uint32(mss) - 1) / uint32(mss))
	if nSegs > maxSegs {
		nSegs = maxSegs
		b.maxLenToSnd = uint32(nSegs) * uint32(mss)
	}
	if nSegs <= 0 || b.maxLenToSnd == 0 {
		return false
	}
	b.nSegsPerEvt = nSegs
	b.leftToSnd = b.maxLenToSnd
	return true
}

// sizeBuffers works out how many pool buffers each segment needs given
// the buffer size and the transport's header reservation.
func sizeBuffers(b *batch, bufSize int, conn transport.Conn) {
	mss := int(conn.SendMSS())
	h := headroomFor(conn)
	b.nBufsPerSeg = (h + mss + bufSize - 1) / bufSize
	if b.nBufsPerSeg < 1 {
		b.nBufsPerSeg = 1
	}
	b.deqPerFirstBuf = min(mss, bufSize-h)
	b.deqPerBuf = min(mss, bufSize)
}

// headroomFor is a small seam through which a Conn can state its header
// reservation by implementing Headroom() int; Conns that do not,
// including transport/loopback's, get 64 bytes.
func headroomFor(conn transport.Conn) int {
	type headroomer interface{ Headroom() int }
	if h, ok := conn.(headroomer); ok {
		return h.Headroom()
	}
	return 64
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// provision ensures the per-thread scratch cache holds enough
// buffers, topping up from the pool in one call, deferring the whole
// event (no partial progress) if still short.
func (p *Pipeline) provision(b *batch) ([]*bufferpool.Buffer, bool) {
	needed := b.nSegsPerEvt * b.nBufsPerSeg
	if len(p.txBuffers) < needed {
		want := needed - len(p.txBuffers)
		p.txBuffers = append(p.txBuffers, p.pool.AllocBulk(want)...)
	}
	if len(p.txBuffers) < needed {
		return nil, false
	}
	return p.txBuffers, true
}

// pop removes and returns the tail buffer of p.txBuffers (LIFO reuse).
func (p *Pipeline) pop() *bufferpool.Buffer {
	n := len(p.txBuffers) - 1
	buf := p.txBuffers[n]
	p.txBuffers = p.txBuffers[:n]
	return buf
}

// emit acquires a next-frame slot, shrinks the batch to fit if short,
// then for each segment pops buffers, copies bytes via the supplied
// reader, chains as needed, pushes the transport header, and publishes.
// It returns the number of segments actually emitted.
func (p *Pipeline) emit(nextIndex int, b *batch, read func(dst []byte) int, conn transport.Conn, sess *session.Session) int {
	free := p.next.GetNextFrame(nextIndex, b.nSegsPerEvt)
	if free < b.nSegsPerEvt {
		b.nSegsPerEvt = free
		b.maxLenToSnd = uint32(free) * uint32(conn.SendMSS())
		b.leftToSnd = b.maxLenToSnd
	}

	emitted := 0
	for s := 0; s < b.nSegsPerEvt; s++ {
		if s+4 < b.nSegsPerEvt && len(p.txBuffers) > 0 {
			p.prefetchHint(p.txBuffers[len(p.txBuffers)-1])
		}

		head := p.pop()
		head.Flags = bufferpool.LocallyOriginated
		head.SetData(0)
		head.TotalLengthNotIncludingFirstBuffer = 0

		lenToDeq := b.leftToSnd
		if uint32(b.deqPerFirstBuf) < lenToDeq {
			lenToDeq = uint32(b.deqPerFirstBuf)
		}
		n := read(head.Body()[:lenToDeq])
		head.SetData(n)
		b.leftToSnd -= uint32(n)

		cur := head
		for i := 1; i < b.nBufsPerSeg && b.leftToSnd > 0; i++ {
			next := p.pop()
			segLen := b.leftToSnd
			if uint32(b.deqPerBuf) < segLen {
				segLen = uint32(b.deqPerBuf)
			}
			m := read(next.Body()[:segLen])
			next.SetData(m)
			b.leftToSnd -= uint32(m)

			cur.Next = next
			cur.Flags |= bufferpool.NextPresent
			head.TotalLengthNotIncludingFirstBuffer += uint32(m)
			cur = next
		}

		conn.PushHeader(head)
		p.next.PutNextFrame(nextIndex, head)
		emitted++
	}

	if b.leftToSnd != 0 {
		elog.Errorf(tag, "session %d: left_to_snd=%d after emission, dropping remainder", sess.Index, b.leftToSnd)
		b.leftToSnd = 0
	}

	return emitted
}

// prefetchHint stands in for manual cache-line prefetching of the next
// buffer in the chain; Go has no prefetch intrinsic, so this is a
// deliberate no-op, not a silent drop.
func (p *Pipeline) prefetchHint(*bufferpool.Buffer) {}
