// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bufferpool

import "testing"

func TestArenaAllocBulkReusesFreed(t *testing.T) {
	a := NewArena(128, 16)

	got := a.AllocBulk(2)
	if len(got) != 2 {
		t.Fatalf("AllocBulk(2) returned %d buffers, want 2", len(got))
	}
	a.Free(got[0])
	a.Free(got[1])

	if a.total != 2 {
		t.Fatalf("total allocated = %d, want 2 (reuse should not grow it)", a.total)
	}

	got2 := a.AllocBulk(2)
	if len(got2) != 2 {
		t.Fatalf("AllocBulk(2) after free returned %d buffers, want 2", len(got2))
	}
	if a.total != 2 {
		t.Fatalf("total allocated after reuse = %d, want 2", a.total)
	}
}

func TestBufferHeadroomAndBody(t *testing.T) {
	a := NewArena(128, 16)
	b := a.AllocBulk(1)[0]

	if got := b.Headroom(); got != 16 {
		t.Fatalf("Headroom() = %d, want 16", got)
	}
	if got := len(b.Body()); got != 128-16 {
		t.Fatalf("len(Body()) = %d, want %d", got, 128-16)
	}
}

func TestBufferSetDataAndData(t *testing.T) {
	a := NewArena(128, 16)
	b := a.AllocBulk(1)[0]

	copy(b.Body(), []byte("hello"))
	b.SetData(5)

	if got := string(b.Data()); got != "hello" {
		t.Fatalf("Data() = %q, want %q", got, "hello")
	}
}

func TestBufferPrependWithinHeadroom(t *testing.T) {
	a := NewArena(128, 16)
	b := a.AllocBulk(1)[0]
	copy(b.Body(), []byte("payload"))
	b.SetData(7)

	hdr := b.Prepend(4)
	copy(hdr, []byte("HDR!"))

	if got, want := string(b.Data()), "HDR!payload"; got != want {
		t.Fatalf("Data() after Prepend = %q, want %q", got, want)
	}
}

func TestBufferPrependBeyondHeadroomPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Prepend beyond reserved headroom did not panic")
		}
	}()
	a := NewArena(128, 16)
	b := a.AllocBulk(1)[0]
	b.SetData(0)
	b.Prepend(17)
}

func TestBufferBytesFlattensChain(t *testing.T) {
	a := NewArena(128, 16)
	bufs := a.AllocBulk(2)
	head, tail := bufs[0], bufs[1]

	copy(head.Body(), []byte("ab"))
	head.SetData(2)
	copy(tail.Body(), []byte("cd"))
	tail.SetData(2)
	head.Next = tail
	head.Flags |= NextPresent

	if got, want := string(head.Bytes()), "abcd"; got != want {
		t.Fatalf("Bytes() = %q, want %q", got, want)
	}
}

func TestFreeChainReturnsEveryBuffer(t *testing.T) {
	a := NewArena(128, 16)
	bufs := a.AllocBulk(3)
	head := bufs[0]
	head.Next = bufs[1]
	bufs[1].Next = bufs[2]

	FreeChain(a, head)

	if len(a.free) != 3 {
		t.Fatalf("free list length = %d, want 3", len(a.free))
	}
}
