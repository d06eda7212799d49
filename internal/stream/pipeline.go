// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns the chunked body of a chat reply into ordered,
// monotonic snapshots of the generated text.
package stream

import "errors"

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline wires Decoder, LineFramer, ParseFragment and Accumulator for a
// single reply. Feed it transport chunks in arrival order; it returns one
// snapshot per applied fragment and the lines it had to skip.
//
// Lines that arrive after the final fragment are ignored.
type Pipeline struct {
	decoder *Decoder
	framer  *LineFramer
	acc     *Accumulator
	closed  bool
}

// NewPipeline returns a pipeline that is already streaming.
func NewPipeline() *Pipeline {
	p := &Pipeline{
		decoder: NewDecoder(),
		framer:  NewLineFramer(),
		acc:     NewAccumulator(),
	}
	_ = p.acc.Begin()
	return p
}

// Feed processes one transport chunk.
func (p *Pipeline) Feed(chunk []byte) ([]Snapshot, []*ParseError) {
	if p.closed || p.Done() {
		return nil, nil
	}
	return p.applyLines(p.framer.Push(p.decoder.Feed(chunk)))
}

// Close flushes held bytes and the partial last line. Further calls to Feed
// or Close are no-ops.
func (p *Pipeline) Close() ([]Snapshot, []*ParseError) {
	if p.closed {
		return nil, nil
	}
	p.closed = true
	if p.Done() {
		return nil, nil
	}

	snaps, bad := p.applyLines(p.framer.Push(p.decoder.Finish()))
	if line, ok := p.framer.Flush(); ok {
		s, b := p.applyLines([]string{line})
		snaps = append(snaps, s...)
		bad = append(bad, b...)
	}
	return snaps, bad
}

// ParseDocument handles a buffered reply: the whole body is one JSON object.
// If the body does not parse as one, it is treated as newline-delimited.
func (p *Pipeline) ParseDocument(body []byte) ([]Snapshot, []*ParseError) {
	if p.closed || p.Done() {
		return nil, nil
	}
	f, err := ParseFragment(string(body))
	if err == nil {
		p.closed = true
		snap, applyErr := p.acc.Apply(f)
		if applyErr != nil {
			return nil, nil
		}
		return []Snapshot{snap}, nil
	}

	snaps, bad := p.Feed(body)
	s, b := p.Close()
	return append(snaps, s...), append(bad, b...)
}

// Done reports whether the final fragment has been applied.
func (p *Pipeline) Done() bool {
	return p.acc.Status() == StatusCompleted
}

// Accumulator exposes the reply state.
func (p *Pipeline) Accumulator() *Accumulator {
	return p.acc
}

// State returns the accumulated text, the raw partial line and the status.
func (p *Pipeline) State() State {
	return State{
		AccumulatedText: p.acc.Text(),
		RawLineBuffer:   p.framer.Pending(),
		Status:          p.acc.Status(),
	}
}

// Release drops every buffer. The pipeline cannot be fed afterwards.
func (p *Pipeline) Release() {
	p.closed = true
	p.decoder.Reset()
	p.framer.Reset()
	p.acc.Release()
}

func (p *Pipeline) applyLines(lines []string) ([]Snapshot, []*ParseError) {
	var (
		snaps []Snapshot
		bad   []*ParseError
	)
	for _, line := range lines {
		if p.Done() {
			break
		}
		f, err := ParseFragment(line)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				bad = append(bad, pe)
			}
			continue
		}
		snap, err := p.acc.Apply(f)
		if err != nil {
			break
		}
		snaps = append(snaps, snap)
	}
	return snaps, bad
}
