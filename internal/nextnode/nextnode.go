// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package nextnode models the downstream processing stage the TX
// pipeline hands finished frames to. A real deployment's next node is
// the protocol-specific output node (ip4-output, etc); here it is
// reduced to the two operations the pipeline actually calls.
package nextnode

import "go.fuchsia.dev/sessionfwd/internal/bufferpool"

// Node is a downstream frame sink: a fixed-capacity batch of buffers
// handed over in one handoff per tick.
type Node interface {
	// GetNextFrame reserves up to n slots for nextIndex and returns how
	// many are actually free; the pipeline must shrink its batch to fit
	// if nFree < n.
	GetNextFrame(nextIndex int, n int) (nFree int)

	// PutNextFrame publishes a single buffer chain head to nextIndex's
	// frame. Ownership of the chain transfers to the node.
	PutNextFrame(nextIndex int, head *bufferpool.Buffer)
}

// Recorder is a Node that just appends every published chain, used by
// tests to observe emitted frames without a real downstream node.
type Recorder struct {
	Capacity int
	Frames   []*bufferpool.Buffer
}

func (r *Recorder) GetNextFrame(_ int, n int) int {
	free := r.Capacity - len(r.Frames)
	if free < 0 {
		free = 0
	}
	if n < free {
		return n
	}
	return free
}

func (r *Recorder) PutNextFrame(_ int, head *bufferpool.Buffer) {
	r.Frames = append(r.Frames, head)
}

var _ Node = (*Recorder)(nil)
