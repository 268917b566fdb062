// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package bufferpool is the transmit buffer allocator the TX pipeline
// borrows chain links from. It is grounded in the ethernet client's eth.Arena
// (see link/eth/client.go: arena.alloc/arena.free/arena.freeAll/
// arena.entry), generalized from one fixed-size VMO-backed slab to a
// plain free-list of same-size buffers, since this engine has no
// zircon VMO to back.
package bufferpool

import (
	"sync"

	"gvisor.dev/gvisor/pkg/tcpip/buffer"
)

// Flags is a small per-buffer bitset; the engine only needs to mark
// buffers it produced and chain continuation.
type Flags uint8

const (
	LocallyOriginated Flags = 1 << iota
	NextPresent
)

// Buffer is an opaque handle into the pool: a linear data region with
// headroom reserved for transport headers, chain linkage for segments
// spanning more than one buffer, and a total-length-excluding-head
// accumulator meaningful only on chain heads.
type Buffer struct {
	data []byte // full backing slice, size == pool.bufSize
	head int    // bytes of reserved headroom at the front of data
	cur  int    // offset of valid data: head after SetData, below head after Prepend
	n    int    // number of valid data bytes starting at cur

	Flags Flags
	Next  *Buffer

	// TotalLengthNotIncludingFirstBuffer is the accumulated length of
	// every buffer after the head in a chain; valid only on the head.
	TotalLengthNotIncludingFirstBuffer uint32
}

// Headroom returns the number of bytes reserved at the front of the
// buffer for a transport header.
func (b *Buffer) Headroom() int { return b.head }

// Body returns the writable region after the reserved headroom, sized
// to the buffer's total capacity minus headroom. Callers writing
// payload bytes must not exceed len(Body()).
func (b *Buffer) Body() []byte { return b.data[b.head:] }

// SetData records that n valid payload bytes were written starting
// right after the headroom.
func (b *Buffer) SetData(n int) {
	b.cur = b.head
	b.n = n
}

// Data returns the valid payload bytes of this buffer only (not its
// chain tail).
func (b *Buffer) Data() []byte { return b.data[b.cur : b.cur+b.n] }

// Prepend reserves n bytes immediately before the current data region
// and returns them for the transport to write its header into; it is
// the engine-side equivalent of push_header's target. n must not
// exceed Headroom().
func (b *Buffer) Prepend(n int) []byte {
	if n > b.cur {
		panic("bufferpool: prepend exceeds reserved headroom")
	}
	b.cur -= n
	b.n += n
	return b.data[b.cur : b.cur+n]
}

// Bytes flattens this buffer's chain (this buffer plus every Next) into
// a single contiguous slice. The loopback transport's Node uses it to
// read a whole emitted frame, and VectorisedView builds on it;
// production transports would instead write each link of the chain to
// the wire directly.
func (b *Buffer) Bytes() []byte {
	out := append([]byte(nil), b.Data()...)
	for n := b.Next; n != nil; n = n.Next {
		out = append(out, n.Data()...)
	}
	return out
}

// VectorisedView exposes the flattened chain as a gvisor
// buffer.VectorisedView.
func (b *Buffer) VectorisedView() buffer.VectorisedView {
	return buffer.View(b.Bytes()).ToVectorisedView()
}

// Pool is a best-effort bulk allocator plus a free path: AllocBulk
// returns however many buffers it could satisfy, never blocking for
// the rest.
type Pool interface {
	// AllocBulk tries to hand back `want` buffers; it may return fewer.
	AllocBulk(want int) []*Buffer
	// Free returns a single buffer (and does not follow Next).
	Free(b *Buffer)
	// BufferSize is the fixed capacity B of every buffer in the pool.
	BufferSize() int
}

// Arena is a fixed-size-buffer free-list pool, the generalization of
// eth.Arena to a plain in-process allocator.
type Arena struct {
	mu       sync.Mutex
	bufSize  int
	headroom int
	free     []*Buffer
	total    int
}

// NewArena creates an Arena whose buffers are bufSize bytes, reserving
// headroom bytes at the front of each for a transport header.
func NewArena(bufSize, headroom int) *Arena {
	return &Arena{bufSize: bufSize, headroom: headroom}
}

func (a *Arena) BufferSize() int { return a.bufSize }

func (a *Arena) newBuffer() *Buffer {
	return &Buffer{data: make([]byte, a.bufSize), head: a.headroom, cur: a.headroom}
}

// AllocBulk returns up to `want` buffers, first from the free list and
// then freshly allocated, mirroring arena.alloc's "grow the VMO region
// or fail" behavior with an always-succeeding heap allocation instead
// (this engine has no fixed backing VMO to exhaust).
func (a *Arena) AllocBulk(want int) []*Buffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Buffer, 0, want)
	for len(out) < want && len(a.free) > 0 {
		n := len(a.free) - 1
		out = append(out, a.free[n])
		a.free = a.free[:n]
	}
	for len(out) < want {
		out = append(out, a.newBuffer())
		a.total++
	}
	return out
}

// Free resets and returns a single buffer to the free list.
func (a *Arena) Free(b *Buffer) {
	b.cur = a.headroom
	b.n = 0
	b.Flags = 0
	b.Next = nil
	b.TotalLengthNotIncludingFirstBuffer = 0
	a.mu.Lock()
	a.free = append(a.free, b)
	a.mu.Unlock()
}

// FreeChain returns every buffer in a chain (head plus every Next) to
// the pool, mirroring arena.freeAll's bulk-release on client close.
func FreeChain(p Pool, head *Buffer) {
	for b := head; b != nil; {
		next := b.Next
		p.Free(b)
		b = next
	}
}

var _ Pool = (*Arena)(nil)
