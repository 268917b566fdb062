// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fifo

import "testing"

func TestByteFIFOWriteAndPeek(t *testing.T) {
	f := NewByteFIFO(8)
	f.Write([]byte("abcd"))

	if got, want := f.ReadableBytes(), uint32(4); got != want {
		t.Fatalf("ReadableBytes() = %d, want %d", got, want)
	}

	buf := make([]byte, 4)
	n, err := f.Peek(0, buf)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if n != 4 || string(buf) != "abcd" {
		t.Fatalf("Peek() = %d, %q, want 4, %q", n, buf, "abcd")
	}
	if got := f.ReadableBytes(); got != 4 {
		t.Fatalf("Peek must not consume, ReadableBytes() = %d", got)
	}
}

func TestByteFIFOPeekOffset(t *testing.T) {
	f := NewByteFIFO(8)
	f.Write([]byte("abcdef"))

	buf := make([]byte, 3)
	n, _ := f.Peek(2, buf)
	if n != 3 || string(buf) != "cde" {
		t.Fatalf("Peek(2, ...) = %d, %q, want 3, %q", n, buf, "cde")
	}
}

func TestByteFIFODequeueDrop(t *testing.T) {
	f := NewByteFIFO(8)
	f.Write([]byte("abcdef"))
	f.DequeueDrop(2)

	if got, want := f.ReadableBytes(), uint32(4); got != want {
		t.Fatalf("ReadableBytes() after drop = %d, want %d", got, want)
	}
	buf := make([]byte, 4)
	f.Peek(0, buf)
	if string(buf) != "cdef" {
		t.Fatalf("Peek after drop = %q, want %q", buf, "cdef")
	}
}

func TestByteFIFOWraps(t *testing.T) {
	f := NewByteFIFO(4)
	f.Write([]byte("ab"))
	f.DequeueDrop(2)
	f.Write([]byte("cdef"))

	buf := make([]byte, 4)
	n, _ := f.Dequeue(buf)
	if n != 4 || string(buf) != "cdef" {
		t.Fatalf("Dequeue() = %d, %q, want 4, %q", n, buf, "cdef")
	}
	if f.ReadableBytes() != 0 {
		t.Fatalf("ReadableBytes() = %d, want 0", f.ReadableBytes())
	}
}

func TestByteFIFOOverwriteHead(t *testing.T) {
	f := NewByteFIFO(8)
	f.Write([]byte("abcdef"))
	f.OverwriteHead([]byte("XY"))

	buf := make([]byte, 6)
	f.Peek(0, buf)
	if string(buf) != "XYcdef" {
		t.Fatalf("Peek after OverwriteHead = %q, want %q", buf, "XYcdef")
	}
}

func TestByteFIFOWriteOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Write beyond capacity did not panic")
		}
	}()
	f := NewByteFIFO(2)
	f.Write([]byte("abc"))
}

func TestByteFIFOSetEventOnce(t *testing.T) {
	f := NewByteFIFO(4)
	if !f.SetEvent() {
		t.Fatal("first SetEvent() = false, want true")
	}
	if f.SetEvent() {
		t.Fatal("second SetEvent() = true, want false (already pending)")
	}
	f.UnsetEvent()
	if !f.SetEvent() {
		t.Fatal("SetEvent() after UnsetEvent() = false, want true")
	}
}
