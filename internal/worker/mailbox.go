// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package worker

import (
	"sync"
	"sync/atomic"
)

// Mailbox is a bounded MPSC ring: producers are other threads/apps, the
// consumer is this worker. Producers block on Push when full; the
// consumer only ever trylocks, abandoning the tick rather than waiting
// if the lock cannot be acquired without blocking.
type Mailbox struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  []Event
	head int
	size int

	// approxSize lets TryDrain's caller peek emptiness without taking the
	// lock: if every event source is empty, skip the lock entirely.
	approxSize int32
}

// NewMailbox creates a mailbox with room for capacity events.
func NewMailbox(capacity int) *Mailbox {
	m := &Mailbox{buf: make([]Event, capacity)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Mailbox) Cap() int { return len(m.buf) }

// Empty is a lock-free peek used to skip the trylock entirely when
// there is nothing to drain.
func (m *Mailbox) Empty() bool { return atomic.LoadInt32(&m.approxSize) == 0 }

// Push enqueues ev, blocking the caller while the mailbox is full. This
// is the only blocking point in the whole system, and it is on the
// producer side only; the consumer never blocks here.
func (m *Mailbox) Push(ev Event) {
	m.mu.Lock()
	for m.size == len(m.buf) {
		m.cond.Wait()
	}
	m.buf[(m.head+m.size)%len(m.buf)] = ev
	m.size++
	atomic.AddInt32(&m.approxSize, 1)
	m.mu.Unlock()
}

// TryDrain attempts to copy out every currently queued event without
// blocking. ok is false if the lock is already held; that is a
// cooperative yield, not an error, and the caller abandons the whole
// tick rather than waiting. If occupancy after the drain is below
// one-eighth capacity, blocked producers are woken; since TryDrain
// takes the whole snapshot at once, that is true of every non-empty
// drain.
func (m *Mailbox) TryDrain() (events []Event, ok bool) {
	if !m.mu.TryLock() {
		return nil, false
	}
	defer m.mu.Unlock()

	n := m.size
	if n == 0 {
		return nil, true
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = m.buf[(m.head+i)%len(m.buf)]
	}
	m.head = (m.head + n) % len(m.buf)
	m.size = 0
	atomic.StoreInt32(&m.approxSize, 0)

	// Post-drain occupancy (0 here, a full drain) determines the wake,
	// not how many were drained: any blocked producer needs to be told
	// room opened up.
	if m.size < len(m.buf)/8 || len(m.buf) < 8 {
		m.cond.Broadcast()
	}
	return out, true
}
