// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns the chunked body of a chat reply into ordered,
// monotonic snapshots of the generated text.
package stream

import (
	"errors"
	"strings"

	"github.com/jeranaias/chatai/internal/model"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is the lifecycle state of one reply.
type Status int

const (
	StatusIdle Status = iota
	StatusStreaming
	StatusCompleted
	StatusFailed
	StatusCancelled
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrNotStreaming is returned by Apply outside the Streaming state.
var ErrNotStreaming = errors.New("accumulator is not streaming")

// =============================================================================
// SNAPSHOT / STATE
// =============================================================================

// Snapshot is a read-only view of the reply after one applied fragment.
// Every snapshot's Text is a prefix of every later snapshot's Text.
type Snapshot struct {
	Text      string
	Status    Status
	Fragments int
	Stats     *model.GenerationStats // set once Status is Completed
}

// State is the complete mutable state of one in-flight reply.
type State struct {
	AccumulatedText string
	RawLineBuffer   string
	Status          Status
}

// =============================================================================
// ACCUMULATOR
// =============================================================================

// Accumulator builds the reply by appending each fragment's delta.
// It never replaces text it has already accepted.
//
// An Accumulator is owned by a single reader and is not safe for concurrent use.
type Accumulator struct {
	// PERFORMANCE: strings.Builder keeps appends linear and snapshots copy-free
	text       strings.Builder
	status     Status
	fragments  int
	stats      *model.GenerationStats
	model      string
	doneReason string
}

// NewAccumulator returns an accumulator in the Idle state.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Begin moves Idle to Streaming. It is a no-op when already streaming.
func (a *Accumulator) Begin() error {
	switch a.status {
	case StatusIdle:
		a.status = StatusStreaming
		return nil
	case StatusStreaming:
		return nil
	default:
		return ErrNotStreaming
	}
}

// Apply appends f.Delta and returns the resulting snapshot. A final fragment
// attaches its stats and completes the reply.
func (a *Accumulator) Apply(f Fragment) (Snapshot, error) {
	if a.status != StatusStreaming {
		return a.Snapshot(), ErrNotStreaming
	}

	a.text.WriteString(f.Delta)
	a.fragments++
	if f.Model != "" {
		a.model = f.Model
	}

	if f.Final {
		if f.Stats != nil {
			stats := *f.Stats
			a.stats = &stats
		} else {
			a.stats = &model.GenerationStats{}
		}
		a.doneReason = f.DoneReason
		a.status = StatusCompleted
	}
	return a.Snapshot(), nil
}

// Complete finishes a reply whose stream ended without a final fragment.
// Stats stay nil because the upstream never reported them.
func (a *Accumulator) Complete() error {
	if a.status != StatusStreaming {
		return ErrNotStreaming
	}
	a.status = StatusCompleted
	return nil
}

// Fail moves a non-terminal accumulator to Failed.
func (a *Accumulator) Fail() {
	if !a.status.Terminal() {
		a.status = StatusFailed
	}
}

// Cancel moves a non-terminal accumulator to Cancelled.
func (a *Accumulator) Cancel() {
	if !a.status.Terminal() {
		a.status = StatusCancelled
	}
}

// Snapshot returns the current view of the reply.
func (a *Accumulator) Snapshot() Snapshot {
	return Snapshot{
		Text:      a.text.String(),
		Status:    a.status,
		Fragments: a.fragments,
		Stats:     a.stats,
	}
}

// Text returns the accumulated reply.
func (a *Accumulator) Text() string { return a.text.String() }

// Status returns the current status.
func (a *Accumulator) Status() Status { return a.status }

// Fragments returns how many fragments have been applied.
func (a *Accumulator) Fragments() int { return a.fragments }

// Stats returns the stats from the final fragment, or nil.
func (a *Accumulator) Stats() *model.GenerationStats { return a.stats }

// Model returns the model name reported by the upstream, if any.
func (a *Accumulator) Model() string { return a.model }

// DoneReason returns the upstream's reason for stopping, if any.
func (a *Accumulator) DoneReason() string { return a.doneReason }

// Release drops the text buffer. Strings already handed out stay valid.
func (a *Accumulator) Release() {
	a.text.Reset()
}
