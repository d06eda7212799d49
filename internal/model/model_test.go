// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage_GeneratesUniqueIDs(t *testing.T) {
	a := NewUserMessage("hi")
	b := NewUserMessage("hi")

	if a.ID == b.ID {
		t.Errorf("IDs should differ, both %q", a.ID)
	}
	if !strings.HasPrefix(a.ID, "msg_") {
		t.Errorf("ID = %q, want msg_ prefix", a.ID)
	}
	if a.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestNewAssistantMessage_CopiesStats(t *testing.T) {
	stats := &GenerationStats{EvalCount: 4}
	msg := NewAssistantMessage("hello", stats)

	stats.EvalCount = 99
	if msg.Meta.EvalCount != 4 {
		t.Errorf("Meta.EvalCount = %d, want 4 (stats must be copied)", msg.Meta.EvalCount)
	}
}

func TestMessage_Preview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		max     int
		want    string
	}{
		{"short", "hello", 10, "hello"},
		{"collapses whitespace", "a\n\nb   c", 10, "a b c"},
		{"truncates", "abcdefghij", 6, "abc..."},
		{"multibyte", "héllo wörld", 8, "héllo..."},
		{"no limit", "abc", 0, "abc"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NewUserMessage(tc.content).Preview(tc.max)
			if got != tc.want {
				t.Errorf("Preview(%d) = %q, want %q", tc.max, got, tc.want)
			}
		})
	}
}

func TestRole_Valid(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleAssistant, RoleSystem} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if Role("tool").Valid() {
		t.Error("tool should not be valid")
	}
}

// =============================================================================
// GENERATION STATS TESTS
// =============================================================================

func TestGenerationStats_TokensPerSecond(t *testing.T) {
	tests := []struct {
		name  string
		stats *GenerationStats
		want  float64
	}{
		{"normal", &GenerationStats{EvalCount: 100, EvalDuration: int64(time.Second)}, 100},
		{"zero duration", &GenerationStats{EvalCount: 100}, 0},
		{"nil", nil, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.stats.TokensPerSecond()
			if got < tc.want*0.99 || got > tc.want*1.01 {
				t.Errorf("TokensPerSecond() = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestGenerationStats_Format(t *testing.T) {
	s := &GenerationStats{EvalCount: 12, TotalDuration: int64(1500 * time.Millisecond), LoadDuration: int64(200 * time.Millisecond)}
	got := s.Format()

	for _, want := range []string{"12 tokens", "1.5s", "load 200ms"} {
		if !strings.Contains(got, want) {
			t.Errorf("Format() = %q, want to contain %q", got, want)
		}
	}

	var nilStats *GenerationStats
	if nilStats.Format() != "" {
		t.Error("nil stats should format empty")
	}
}

// =============================================================================
// TRANSCRIPT TESTS
// =============================================================================

func TestTranscript_AppendExchange(t *testing.T) {
	tr, err := NewTranscript()
	if err != nil {
		t.Fatalf("NewTranscript: %v", err)
	}

	if err := tr.AppendExchange(NewUserMessage("hi"), NewAssistantMessage("Hello", nil)); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}

	msgs := tr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("roles = %s,%s", msgs[0].Role, msgs[1].Role)
	}
}

func TestNewEmptyTranscript(t *testing.T) {
	tr := NewEmptyTranscript()
	if tr.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tr.Len())
	}
	if _, ok := tr.Last(); ok {
		t.Error("Last reported a message on an empty transcript")
	}
	if err := tr.AppendExchange(NewUserMessage("hi"), NewAssistantMessage("Hello", nil)); err != nil {
		t.Fatalf("AppendExchange: %v", err)
	}
	if tr.Len() != 2 {
		t.Errorf("Len = %d, want 2", tr.Len())
	}
}

func TestTranscript_RejectsBadExchange(t *testing.T) {
	tr, _ := NewTranscript()

	err := tr.AppendExchange(NewAssistantMessage("x", nil), NewUserMessage("y"))
	if !errors.Is(err, ErrInvalidExchange) {
		t.Errorf("err = %v, want ErrInvalidExchange", err)
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0 after rejected append", tr.Len())
	}
}

func TestTranscript_RejectsAfterDanglingUser(t *testing.T) {
	tr, err := NewTranscript(NewUserMessage("unanswered"))
	if err != nil {
		t.Fatalf("NewTranscript: %v", err)
	}

	err = tr.AppendExchange(NewUserMessage("again"), NewAssistantMessage("x", nil))
	if !errors.Is(err, ErrRoleSequence) {
		t.Errorf("err = %v, want ErrRoleSequence", err)
	}
}

func TestNewTranscript_ValidatesHistory(t *testing.T) {
	_, err := NewTranscript(NewUserMessage("a"), NewUserMessage("b"))
	if !errors.Is(err, ErrRoleSequence) {
		t.Errorf("err = %v, want ErrRoleSequence", err)
	}

	_, err = NewTranscript(NewMessage(Role("tool"), "x"))
	if err == nil {
		t.Error("expected error for invalid role")
	}
}

func TestTranscript_MessagesAreCopies(t *testing.T) {
	tr, _ := NewTranscript()
	_ = tr.AppendExchange(NewUserMessage("q"), NewAssistantMessage("a", &GenerationStats{EvalCount: 1}))

	msgs := tr.Messages()
	msgs[0].Content = "mutated"
	msgs[1].Meta.EvalCount = 42

	again := tr.Messages()
	if again[0].Content != "q" {
		t.Errorf("Content = %q, committed message was mutated", again[0].Content)
	}
	if again[1].Meta.EvalCount != 1 {
		t.Errorf("EvalCount = %d, committed stats were mutated", again[1].Meta.EvalCount)
	}
}

func TestTranscript_ConcurrentAppends(t *testing.T) {
	tr, _ := NewTranscript()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.AppendExchange(NewUserMessage("q"), NewAssistantMessage("a", nil))
		}()
	}
	wg.Wait()

	msgs := tr.Messages()
	if len(msgs) != 100 {
		t.Fatalf("len = %d, want 100", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == msgs[i-1].Role {
			t.Fatalf("messages %d and %d share role %s", i-1, i, msgs[i].Role)
		}
	}
}
