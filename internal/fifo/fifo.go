// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fifo models the session TX/RX byte queues the engine
// consumes. The real system backs these with shared memory between an
// application producer and this worker's consumer; ByteFIFO below is
// an in-process stand-in with the same non-blocking, event-flag
// semantics, in the spirit of the ethernet client's FIFO handling,
// which treats its zircon FIFOs purely through a narrow
// read/write/signal surface (see client.go's fifoRead/fifoWrite and
// the zxsioEthSignalStatus handling).
package fifo

import "sync/atomic"

// FIFO is a non-blocking byte queue between a producer (application)
// and this worker (consumer) on the TX side. Implementations must make
// ReadableBytes/Peek/Dequeue safe to call from the owning worker only;
// SetEvent/UnsetEvent must be safe to call concurrently with producer
// writes.
type FIFO interface {
	// ReadableBytes returns the number of bytes currently queued.
	ReadableBytes() uint32

	// Peek copies up to len(buf) bytes starting at offset into buf
	// without removing them, returning the number actually copied.
	Peek(offset uint32, buf []byte) (int, error)

	// Dequeue copies up to len(buf) bytes from the head of the queue
	// into buf and removes them. The caller guarantees
	// len(buf) <= ReadableBytes().
	Dequeue(buf []byte) (int, error)

	// DequeueDrop removes n bytes from the head without copying them.
	DequeueDrop(n uint32)

	// OverwriteHead mutates the first len(b) readable bytes in place,
	// used to rewrite a datagram pre-header after partial delivery.
	OverwriteHead(b []byte)

	// SetEvent atomically marks an event pending on this FIFO,
	// returning true iff the caller transitioned it from 0 to 1. The
	// dispatcher uses the return value to decide whether to self-kick
	// a fresh TX event (no need to if someone else already did).
	SetEvent() bool

	// UnsetEvent clears the pending-event flag.
	UnsetEvent()
}

// ByteFIFO is a single-producer/single-consumer byte ring backed by a
// fixed-capacity slice, used both by tests and by the in-process
// loopback transport. Apart from the atomic event flag it does no
// synchronization: producer and consumer calls must not overlap.
type ByteFIFO struct {
	buf   []byte
	head  int // next byte to read
	size  int // number of valid bytes starting at head
	event int32
}

// NewByteFIFO allocates a ring of the given capacity.
func NewByteFIFO(capacity int) *ByteFIFO {
	return &ByteFIFO{buf: make([]byte, capacity)}
}

// Write appends b to the queue (producer side), wrapping as needed. It
// panics if b would overflow capacity, since the production system's
// FIFOs are sized by the session manager to bound the producer.
func (f *ByteFIFO) Write(b []byte) {
	if len(b) > len(f.buf)-f.size {
		panic("fifo: write exceeds capacity")
	}
	for i := 0; i < len(b); i++ {
		f.buf[(f.head+f.size+i)%len(f.buf)] = b[i]
	}
	f.size += len(b)
}

func (f *ByteFIFO) ReadableBytes() uint32 { return uint32(f.size) }

func (f *ByteFIFO) Peek(offset uint32, buf []byte) (int, error) {
	avail := f.size - int(offset)
	if avail <= 0 {
		return 0, nil
	}
	n := len(buf)
	if n > avail {
		n = avail
	}
	start := (f.head + int(offset)) % len(f.buf)
	for i := 0; i < n; i++ {
		buf[i] = f.buf[(start+i)%len(f.buf)]
	}
	return n, nil
}

func (f *ByteFIFO) Dequeue(buf []byte) (int, error) {
	n, _ := f.Peek(0, buf)
	f.DequeueDrop(uint32(n))
	return n, nil
}

func (f *ByteFIFO) DequeueDrop(n uint32) {
	if int(n) > f.size {
		n = uint32(f.size)
	}
	f.head = (f.head + int(n)) % len(f.buf)
	f.size -= int(n)
}

func (f *ByteFIFO) OverwriteHead(b []byte) {
	if len(b) > f.size {
		panic("fifo: overwrite exceeds readable bytes")
	}
	for i := 0; i < len(b); i++ {
		f.buf[(f.head+i)%len(f.buf)] = b[i]
	}
}

func (f *ByteFIFO) SetEvent() bool { return atomic.SwapInt32(&f.event, 1) == 0 }
func (f *ByteFIFO) UnsetEvent()    { atomic.StoreInt32(&f.event, 0) }

var _ FIFO = (*ByteFIFO)(nil)
