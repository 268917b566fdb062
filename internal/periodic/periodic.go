// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package periodic runs the cooperative timer process each worker
// thread hosts alongside its dispatch loop: every tick interval it
// invokes a transport's time-update hook so retransmission and
// keep-alive timers make progress even when no session has queued
// data. It is shaped like the ethernet client's status-change loop
// (a goroutine blocking on a signal with a timeout), adapted from
// "wait for a link status change or give up after a timeout" to "wait
// for a stop kick or fire every interval".
package periodic

import (
	"sync"
	"time"

	"go.fuchsia.dev/sessionfwd/internal/elog"
	"go.fuchsia.dev/sessionfwd/internal/metrics"
)

const tag = "periodic"

// defaultInterval is the one-second session timer tick used when no
// interval is supplied.
const defaultInterval = time.Second

// Hook is invoked once per tick for each registered transport.
type Hook func(now time.Time)

// Process runs Hook on a fixed interval until stopped. Stop raises the
// effective timeout to infinite rather than tearing Run's goroutine
// down: once disarmed, Run parks on a select with no live channel and
// never fires a hook again, but it does not return.
type Process struct {
	Interval time.Duration
	hooks    []Hook
	ctrs     *metrics.Counters

	disarm chan struct{}
	once   sync.Once
}

// New creates a Process that invokes hooks every interval (defaultInterval
// if zero).
func New(ctrs *metrics.Counters, interval time.Duration, hooks ...Hook) *Process {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Process{
		Interval: interval,
		hooks:    hooks,
		ctrs:     ctrs,
		disarm:   make(chan struct{}),
	}
}

// AddHook registers an additional hook; not safe to call once Run has
// started.
func (p *Process) AddHook(h Hook) { p.hooks = append(p.hooks, h) }

// Run blocks, firing hooks every Interval until Stop disarms it.
// Intended to be run in its own goroutine, one per worker thread. Run
// only returns if the process exits out from under it; Stop alone
// never causes that.
func (p *Process) Run() {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	disarm := p.disarm
	tick := ticker.C
	for {
		select {
		case <-disarm:
			// Stop both channel sources for good: a nil channel is never
			// selected, so this is an effectively-infinite timeout, not a
			// return. disarm is re-nilled too so the closed channel isn't
			// spun on every iteration.
			ticker.Stop()
			tick = nil
			disarm = nil
			elog.Infof(tag, "periodic process disarmed")
		case now := <-tick:
			for _, h := range p.hooks {
				h(now)
			}
			if p.ctrs != nil {
				p.ctrs.Timer.Inc()
			}
		}
	}
}

// Stop disarms the process; idempotent, safe to call more than once.
func (p *Process) Stop() {
	p.once.Do(func() { close(p.disarm) })
}
