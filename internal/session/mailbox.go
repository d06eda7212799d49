// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one question/answer exchange against the upstream
// model server.
package session

import (
	"sync"

	"github.com/jeranaias/chatai/internal/model"
	"github.com/jeranaias/chatai/internal/stream"
)

// =============================================================================
// MAILBOX
// =============================================================================

// terminalEvent is the single completion or failure of an exchange.
type terminalEvent struct {
	msg *model.Message
	err *ExchangeError
}

// mailbox hands events from the reader goroutine to the delivery goroutine.
// Snapshots are latest-value: a newer one replaces an undelivered one, which
// is safe because every snapshot is a complete prefix of the reply.
// Malformed-line reports queue in order. The terminal event is set once.
type mailbox struct {
	mu          sync.Mutex
	snapshot    string
	hasSnapshot bool
	malformed   []*stream.ParseError
	terminal    *terminalEvent

	notify chan struct{}

	// onCoalesce runs whenever a pending snapshot is replaced.
	onCoalesce func()
}

func newMailbox(onCoalesce func()) *mailbox {
	if onCoalesce == nil {
		onCoalesce = func() {}
	}
	return &mailbox{
		notify:     make(chan struct{}, 1),
		onCoalesce: onCoalesce,
	}
}

func (m *mailbox) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) putSnapshot(text string) {
	m.mu.Lock()
	if m.hasSnapshot {
		m.onCoalesce()
	}
	m.snapshot = text
	m.hasSnapshot = true
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) putMalformed(pe *stream.ParseError) {
	m.mu.Lock()
	m.malformed = append(m.malformed, pe)
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) putTerminal(ev *terminalEvent) {
	m.mu.Lock()
	if m.terminal == nil {
		m.terminal = ev
	}
	m.mu.Unlock()
	m.signal()
}

// take removes everything pending. The terminal event is only handed out
// once no snapshot is pending, so the final snapshot is always delivered
// before completion.
func (m *mailbox) take() (malformed []*stream.ParseError, snapshot string, hasSnapshot bool, terminal *terminalEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	malformed, m.malformed = m.malformed, nil
	snapshot, hasSnapshot = m.snapshot, m.hasSnapshot
	m.snapshot, m.hasSnapshot = "", false
	if !hasSnapshot {
		terminal, m.terminal = m.terminal, nil
	}
	return malformed, snapshot, hasSnapshot, terminal
}

// takeSnapshot replaces text with a newer pending snapshot, if any.
func (m *mailbox) takeSnapshot(text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasSnapshot {
		m.onCoalesce()
		text = m.snapshot
		m.snapshot, m.hasSnapshot = "", false
	}
	return text
}

func (m *mailbox) hasTerminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminal != nil
}
