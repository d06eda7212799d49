// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"errors"
	"fmt"
	"sync"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrRoleSequence is returned when an append would put two messages with
	// the same role next to each other.
	ErrRoleSequence = errors.New("consecutive messages with the same role")

	// ErrInvalidExchange is returned when an exchange is not a user message
	// followed by an assistant message.
	ErrInvalidExchange = errors.New("exchange must be a user message followed by an assistant message")
)

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is the ordered, append-only list of committed messages.
//
// A Transcript is safe for concurrent use. Readers always receive copies, so
// nothing handed out can be used to mutate committed history.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

// NewEmptyTranscript creates a transcript with no history.
func NewEmptyTranscript() *Transcript {
	return &Transcript{}
}

// NewTranscript creates a transcript seeded with existing history.
// History is validated with the same rules as AppendExchange.
func NewTranscript(history ...Message) (*Transcript, error) {
	t := &Transcript{}
	for i, msg := range history {
		if !msg.Role.Valid() {
			return nil, fmt.Errorf("message %d: invalid role %q", i, msg.Role)
		}
		if i > 0 && history[i-1].Role == msg.Role {
			return nil, fmt.Errorf("message %d: %w", i, ErrRoleSequence)
		}
	}
	t.messages = cloneMessages(history)
	return t, nil
}

// AppendExchange atomically commits a [user, assistant] pair.
// Either both messages are appended or neither is.
func (t *Transcript) AppendExchange(user, assistant Message) error {
	if user.Role != RoleUser || assistant.Role != RoleAssistant {
		return ErrInvalidExchange
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.messages); n > 0 && t.messages[n-1].Role == RoleUser {
		return ErrRoleSequence
	}

	assistant.Meta = assistant.Meta.clone()
	t.messages = append(t.messages, user, assistant)
	return nil
}

// Messages returns a copy of the committed history.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneMessages(t.messages)
}

// Len returns the number of committed messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Last returns the most recently committed message.
func (t *Transcript) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	msg := t.messages[len(t.messages)-1]
	msg.Meta = msg.Meta.clone()
	return msg, true
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, msg := range in {
		msg.Meta = msg.Meta.clone()
		out[i] = msg
	}
	return out
}
