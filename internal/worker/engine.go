// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package worker is the per-thread dispatch engine: it owns a mailbox,
// merges it with the deferred-work queues left over from the previous
// tick, and runs each event through the TX pipeline or a builtin
// handler. Exactly one goroutine calls Tick/Run for a given Engine;
// every other goroutine touching it goes through Mailbox.Push.
package worker

import (
	"context"
	"time"

	"go.fuchsia.dev/sessionfwd/internal/bufferpool"
	"go.fuchsia.dev/sessionfwd/internal/elog"
	"go.fuchsia.dev/sessionfwd/internal/metrics"
	"go.fuchsia.dev/sessionfwd/internal/nextnode"
	"go.fuchsia.dev/sessionfwd/internal/session"
	"go.fuchsia.dev/sessionfwd/internal/transport"
	"go.fuchsia.dev/sessionfwd/internal/txpipeline"
)

const tag = "worker"

// defaultMaxSegsPerEvent bounds how many segments a single TX event may
// emit in one tick, independent of window/buffer sizing, so that one
// session cannot starve the rest of the mailbox.
const defaultMaxSegsPerEvent = 32

// Engine is one worker thread's dispatch loop.
type Engine struct {
	Thread uint32

	mailbox  *Mailbox
	pipeline *txpipeline.Pipeline
	vtables  map[session.TransportKind]transport.Vtable
	sessions map[uint32]*session.Session
	ctrs     *metrics.Counters

	// pendingEvents holds events deferred this tick (buffer exhaustion,
	// a not-yet-ready session) for retry next tick.
	pendingEvents []Event

	// pendingDisconnects holds DISCONNECT events postponed once already,
	// so that a TX event queued for the same session in the same batch
	// is guaranteed to run first.
	pendingDisconnects []Event

	// MaxPendingBacklog caps len(pendingEvents); 0 means unbounded,
	// disabled by default.
	MaxPendingBacklog int

	// MaxSegsPerEvent bounds one TX event's batch size.
	MaxSegsPerEvent int
}

// New creates an Engine for one worker thread. pool and next back the
// thread's TX pipeline; mailboxCap sizes its inbound event queue.
func New(thread uint32, mailboxCap int, pool bufferpool.Pool, next nextnode.Node, ctrs *metrics.Counters) *Engine {
	return &Engine{
		Thread:          thread,
		mailbox:         NewMailbox(mailboxCap),
		pipeline:        txpipeline.New(thread, pool, next, ctrs),
		vtables:         make(map[session.TransportKind]transport.Vtable),
		sessions:        make(map[uint32]*session.Session),
		ctrs:            ctrs,
		MaxSegsPerEvent: defaultMaxSegsPerEvent,
	}
}

// RegisterVtable binds the Vtable a transport kind's sessions dispatch
// through. Call once per kind before any session of that kind runs.
func (e *Engine) RegisterVtable(kind session.TransportKind, vt transport.Vtable) {
	e.vtables[kind] = vt
}

// RegisterSession makes sess visible to TX/RX/disconnect events
// referencing its Index. Sessions are pinned to one Engine for their
// whole lifetime; callers must register on the owning thread only.
func (e *Engine) RegisterSession(sess *session.Session) {
	e.sessions[sess.Index] = sess
}

// UnregisterSession drops sess from the table, called once its
// DISCONNECT event has actually been processed.
func (e *Engine) UnregisterSession(index uint32) {
	delete(e.sessions, index)
}

// Post enqueues ev for this engine's thread, blocking the caller if the
// mailbox is full. Safe to call from any goroutine.
func (e *Engine) Post(ev Event) { e.mailbox.Push(ev) }

// drainAndMerge builds one tick's worklist: the mailbox's contents
// followed by last tick's deferred events and postponed disconnects. If
// the mailbox trylock fails the whole tick is abandoned: it returns nil
// and leaves the deferred queues for the next tick. If all three
// sources are empty the mailbox is not even probed with a lock.
func (e *Engine) drainAndMerge() []Event {
	if e.mailbox.Empty() && len(e.pendingEvents) == 0 && len(e.pendingDisconnects) == 0 {
		return nil
	}

	var drained []Event
	if !e.mailbox.Empty() {
		got, ok := e.mailbox.TryDrain()
		if !ok {
			// Lock contended: abandon the whole tick.
			return nil
		}
		drained = got
	}

	batch := make([]Event, 0, len(drained)+len(e.pendingEvents)+len(e.pendingDisconnects))
	batch = append(batch, drained...)
	batch = append(batch, e.pendingEvents...)
	batch = append(batch, e.pendingDisconnects...)
	e.pendingEvents = e.pendingEvents[:0]
	e.pendingDisconnects = e.pendingDisconnects[:0]
	return batch
}

// Tick drains one batch of events and dispatches each, re-queuing
// deferred work for the next call. It returns the number of events
// dispatched (not counting ones deferred back to pendingEvents).
func (e *Engine) Tick() int {
	batch := e.drainAndMerge()
	dispatched := 0
	for _, ev := range batch {
		if e.dispatch(ev) {
			dispatched++
		}
	}
	return dispatched
}

// dispatch handles one event, returning true if it made forward
// progress (as opposed to being re-deferred).
func (e *Engine) dispatch(ev Event) bool {
	switch ev.Kind {
	case TX:
		return e.dispatchTX(ev)
	case BuiltinRX:
		return e.dispatchBuiltinRX(ev)
	case Disconnect:
		return e.dispatchDisconnect(ev)
	case RPC:
		if ev.RPCFunc != nil {
			ev.RPCFunc(ev.RPCArg)
		}
		return true
	default:
		elog.Warnf(tag, "thread %d: unknown event kind %v, dropping", e.Thread, ev.Kind)
		return true
	}
}

func (e *Engine) dispatchTX(ev Event) bool {
	sess, ok := e.sessions[ev.SessionIndex]
	if !ok {
		// Session vanished between enqueue and dispatch: warn and drop
		// rather than silently ignoring it.
		elog.Warnf(tag, "thread %d: TX event for unknown session %d, dropping", e.Thread, ev.SessionIndex)
		return true
	}
	vt, ok := e.vtables[sess.Type.Transport]
	if !ok {
		elog.Warnf(tag, "thread %d: no vtable for session %d's transport kind, dropping", e.Thread, ev.SessionIndex)
		return true
	}

	// Peek vs dequeue mode is dispatched by the session's own transport
	// kind, same as the event dispatcher's session-type-keyed handler
	// table. It is a separate axis from vt.TxType(), which DequeueAndSend
	// consults on its own to pick dgram-framed vs plain stream framing
	// within dequeue mode.
	var outcome txpipeline.Outcome
	if sess.Type.Transport == session.Dgram {
		outcome = e.pipeline.DequeueAndSend(0, sess, vt, e.MaxSegsPerEvent)
	} else {
		outcome = e.pipeline.PeekAndSend(0, sess, vt, e.MaxSegsPerEvent)
	}

	switch outcome.Result {
	case txpipeline.OK:
		if outcome.SelfKick {
			e.requeueTX(ev.SessionIndex)
		}
		return true
	case txpipeline.Defer:
		e.deferEvent(ev)
		return false
	case txpipeline.Fatal:
		return true
	default:
		return true
	}
}

func (e *Engine) dispatchBuiltinRX(ev Event) bool {
	sess, ok := e.sessions[ev.SessionIndex]
	if !ok {
		elog.Warnf(tag, "thread %d: builtin RX event for unknown session %d, dropping", e.Thread, ev.SessionIndex)
		return true
	}
	// The event is consumed here with no further action: no builtin-app
	// callback is invoked for AppIndex and the RX FIFO's event flag is
	// not cleared.
	_ = sess.AppIndex
	return true
}

func (e *Engine) dispatchDisconnect(ev Event) bool {
	if !ev.Postponed {
		// First sighting: postpone once so any TX event for the same
		// session queued in this same batch runs before teardown.
		ev.Postponed = true
		e.pendingDisconnects = append(e.pendingDisconnects, ev)
		return false
	}
	if sess, ok := e.sessions[ev.SessionIndex]; ok && sess.TXFIFO != nil && sess.TXFIFO.ReadableBytes() > 0 {
		// TX data still queued: keep postponing until the FIFO is empty.
		e.pendingDisconnects = append(e.pendingDisconnects, ev)
		return false
	}
	e.UnregisterSession(ev.SessionIndex)
	return true
}

// requeueTX re-arms a TX event for sessionIndex for the next tick, the
// self-kick path a pipeline Outcome signals when more data remains
// after a tick than this batch covered. It goes straight onto
// pendingEvents rather than Mailbox.Push: Push can block waiting for
// the very consumer goroutine that would be calling it, which is this
// one.
func (e *Engine) requeueTX(sessionIndex uint32) {
	e.pendingEvents = append(e.pendingEvents, Event{Kind: TX, SessionIndex: sessionIndex})
}

// deferEvent appends ev to pendingEvents, dropping the oldest deferred
// event instead of growing without bound once MaxPendingBacklog is
// exceeded (0 means unbounded, the default).
func (e *Engine) deferEvent(ev Event) {
	if e.MaxPendingBacklog > 0 && len(e.pendingEvents) >= e.MaxPendingBacklog {
		elog.Warnf(tag, "thread %d: pending backlog at cap %d, dropping oldest deferred event", e.Thread, e.MaxPendingBacklog)
		e.pendingEvents = e.pendingEvents[1:]
	}
	e.pendingEvents = append(e.pendingEvents, ev)
}

// PendingSnapshot returns a copy of the currently deferred events, used
// by the dump-mailbox debug command; it does not mutate engine state.
func (e *Engine) PendingSnapshot() []Event {
	out := make([]Event, len(e.pendingEvents))
	copy(out, e.pendingEvents)
	return out
}

// Run drives Tick in a loop until ctx is cancelled, sleeping briefly
// between empty ticks so an idle engine does not spin.
func (e *Engine) Run(ctx context.Context) {
	const idleBackoff = 500 * time.Microsecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if n := e.Tick(); n == 0 {
			time.Sleep(idleBackoff)
		}
	}
}
