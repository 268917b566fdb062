// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package worker

import (
	"sync"
	"testing"
	"time"
)

func TestMailboxPushAndTryDrain(t *testing.T) {
	m := NewMailbox(4)
	if !m.Empty() {
		t.Fatal("Empty() = false on a fresh mailbox")
	}

	m.Push(Event{Kind: TX, SessionIndex: 1})
	m.Push(Event{Kind: TX, SessionIndex: 2})

	if m.Empty() {
		t.Fatal("Empty() = true after pushing events")
	}

	got, ok := m.TryDrain()
	if !ok {
		t.Fatal("TryDrain() ok = false, want true")
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].SessionIndex != 1 || got[1].SessionIndex != 2 {
		t.Fatalf("got = %+v, want session indices [1 2] in order", got)
	}
	if !m.Empty() {
		t.Fatal("Empty() = false after draining everything")
	}
}

func TestMailboxTryDrainEmptyIsOK(t *testing.T) {
	m := NewMailbox(4)
	got, ok := m.TryDrain()
	if !ok || got != nil {
		t.Fatalf("TryDrain() on empty mailbox = %v, %v, want nil, true", got, ok)
	}
}

func TestMailboxTryDrainFailsUnderContention(t *testing.T) {
	m := NewMailbox(4)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.TryDrain(); ok {
		t.Fatal("TryDrain() ok = true while lock is held, want false")
	}
}

func TestMailboxPushBlocksWhenFull(t *testing.T) {
	m := NewMailbox(1)
	m.Push(Event{Kind: TX, SessionIndex: 1})

	pushed := make(chan struct{})
	go func() {
		m.Push(Event{Kind: TX, SessionIndex: 2})
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("Push() on a full mailbox returned before room was made")
	case <-time.After(20 * time.Millisecond):
	}

	if _, ok := m.TryDrain(); !ok {
		t.Fatal("TryDrain() failed to acquire lock")
	}

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("blocked Push() never returned after TryDrain freed capacity")
	}
}

func TestMailboxConcurrentProducers(t *testing.T) {
	m := NewMailbox(8)
	const producers = 4
	const perProducer = 20

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				m.Push(Event{Kind: TX, SessionIndex: uint32(p)})
			}
		}(p)
	}

	total := 0
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	for {
		if got, ok := m.TryDrain(); ok {
			total += len(got)
		}
		select {
		case <-done:
			// Drain whatever is left after producers finish.
			for {
				got, ok := m.TryDrain()
				if ok && len(got) == 0 {
					if total != producers*perProducer {
						t.Fatalf("total drained = %d, want %d", total, producers*perProducer)
					}
					return
				}
				if ok {
					total += len(got)
				}
			}
		default:
		}
	}
}
