// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package metrics exposes the engine's counters (packets transmitted,
// timer firings, buffer-exhaustion deferrals) as Prometheus metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters groups the three counters the dispatch engine exposes.
type Counters struct {
	TX       prometheus.Counter
	Timer    prometheus.Counter
	NoBuffer prometheus.Counter
}

// New registers a Counters set labeled by worker thread onto reg. Each
// worker gets its own Counters so per-thread hot spots are visible.
func New(reg *prometheus.Registry, thread uint32) *Counters {
	labels := prometheus.Labels{"thread": strconv.FormatUint(uint64(thread), 10)}
	c := &Counters{
		TX: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sessionfwd",
			Name:        "tx_packets_total",
			Help:        "Packets transmitted by the TX pipeline.",
			ConstLabels: labels,
		}),
		Timer: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sessionfwd",
			Name:        "timer_events_total",
			Help:        "Timer events fired by the periodic process.",
			ConstLabels: labels,
		}),
		NoBuffer: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "sessionfwd",
			Name:        "tx_no_buffer_total",
			Help:        "TX events deferred due to buffer pool exhaustion.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(c.TX, c.Timer, c.NoBuffer)
	return c
}
