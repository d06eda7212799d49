// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/chatai/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is a role the upstream accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// GENERATION STATS
// =============================================================================

// GenerationStats is the timing data reported on the final fragment of a reply.
// Durations are nanoseconds, exactly as the upstream reports them.
type GenerationStats struct {
	LoadDuration    int64 `json:"load_duration"`
	TotalDuration   int64 `json:"total_duration"`
	EvalCount       int   `json:"eval_count"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalDuration    int64 `json:"eval_duration,omitempty"`
}

// TokensPerSecond calculates the generation speed.
func (s *GenerationStats) TokensPerSecond() float64 {
	if s == nil || s.EvalDuration == 0 {
		return 0
	}
	return float64(s.EvalCount) / (float64(s.EvalDuration) / 1e9)
}

// Total returns the total generation time.
func (s *GenerationStats) Total() time.Duration {
	if s == nil {
		return 0
	}
	return time.Duration(s.TotalDuration)
}

// Load returns the model load time.
func (s *GenerationStats) Load() time.Duration {
	if s == nil {
		return 0
	}
	return time.Duration(s.LoadDuration)
}

// Format renders the stats as a one-line summary for display.
func (s *GenerationStats) Format() string {
	if s == nil {
		return ""
	}
	parts := []string{fmt.Sprintf("%d tokens", s.EvalCount)}
	if tps := s.TokensPerSecond(); tps > 0 {
		parts = append(parts, fmt.Sprintf("%.1f tok/s", tps))
	}
	if s.TotalDuration > 0 {
		parts = append(parts, s.Total().Round(time.Millisecond).String())
	}
	if s.LoadDuration > 0 {
		parts = append(parts, "load "+s.Load().Round(time.Millisecond).String())
	}
	return strings.Join(parts, " | ")
}

// clone returns a copy so committed messages never share stats with callers.
func (s *GenerationStats) clone() *GenerationStats {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single committed message in a conversation.
// Messages are values; once appended to a Transcript they are never changed.
type Message struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Meta      *GenerationStats `json:"meta,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a completed assistant message carrying stats.
func NewAssistantMessage(content string, stats *GenerationStats) Message {
	msg := NewMessage(RoleAssistant, content)
	msg.Meta = stats.clone()
	return msg
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// Preview returns the first maxLen runes of the content on a single line.
func (m Message) Preview(maxLen int) string {
	content := strings.Join(strings.Fields(m.Content), " ")
	if maxLen <= 0 {
		return content
	}
	return util.TruncateRunes(content, maxLen)
}

// IsEmpty returns true if the message has no visible content.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == ""
}

// generateID creates a unique message ID.
func generateID() string {
	return "msg_" + uuid.NewString()
}
