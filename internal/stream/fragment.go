// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns the chunked body of a chat reply into ordered,
// monotonic snapshots of the generated text.
package stream

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/jeranaias/chatai/internal/model"
)

// =============================================================================
// FRAGMENT
// =============================================================================

// Fragment is one decoded increment of generated text.
type Fragment struct {
	// Delta is appended to the accumulated reply.
	Delta string

	// Final marks the last fragment of the reply.
	Final bool

	// Stats is set only on the final fragment.
	Stats *model.GenerationStats

	// Model and DoneReason are informational and may be empty.
	Model      string
	DoneReason string
}

// =============================================================================
// PARSE ERRORS
// =============================================================================

var (
	// ErrNotObject means the line was valid JSON but not an object.
	ErrNotObject = errors.New("fragment is not a JSON object")

	// ErrMissingContent means neither message.content nor response was present.
	ErrMissingContent = errors.New("fragment has no message content")

	// ErrUpstreamReported means the line carried an "error" field instead of text.
	ErrUpstreamReported = errors.New("upstream reported an error")
)

// ParseError reports a line that could not be turned into a Fragment.
// It is always recoverable: the caller skips the line and keeps reading.
type ParseError struct {
	RawLine  string
	Upstream string // upstream error text, when the line carried one
	Err      error
}

func (e *ParseError) Error() string {
	msg := "malformed fragment"
	if e.Upstream != "" {
		msg += " (" + e.Upstream + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// =============================================================================
// PARSER
// =============================================================================

// wireFragment mirrors one line of the /api/chat reply. Pointer fields tell a
// missing text field apart from an empty one.
type wireFragment struct {
	Model   string `json:"model"`
	Message *struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
	Response        *string `json:"response"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason"`
	TotalDuration   statValue `json:"total_duration"`
	LoadDuration    statValue `json:"load_duration"`
	PromptEvalCount statValue `json:"prompt_eval_count"`
	EvalCount       statValue `json:"eval_count"`
	EvalDuration    statValue `json:"eval_duration"`
	Error           string    `json:"error"`
}

// statValue is a stats counter or duration. Any JSON value decodes:
// numbers in float or exponent form are truncated toward zero, negatives
// and non-numbers become 0, and values past the int64 range are clamped.
type statValue int64

func (v *statValue) UnmarshalJSON(data []byte) error {
	*v = 0
	text := string(data)
	if n, err := strconv.ParseInt(text, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
		if n > 0 {
			*v = statValue(n)
		}
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	switch {
	case err != nil && !errors.Is(err, strconv.ErrRange):
	case math.IsNaN(f) || f <= 0:
	case f >= math.MaxInt64:
		*v = math.MaxInt64
	default:
		*v = statValue(f)
	}
	return nil
}

// ParseFragment decodes a single line. Both the chat shape
// {"message":{"content":...},"done":...} and the generate shape
// {"response":...,"done":...} are accepted.
func ParseFragment(line string) (Fragment, error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		if json.Valid([]byte(trimmed)) {
			return Fragment{}, &ParseError{RawLine: line, Err: ErrNotObject}
		}
		return Fragment{}, &ParseError{RawLine: line, Err: errors.New("invalid JSON")}
	}

	var w wireFragment
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return Fragment{}, &ParseError{RawLine: line, Err: err}
	}

	if w.Error != "" {
		return Fragment{}, &ParseError{RawLine: line, Upstream: w.Error, Err: ErrUpstreamReported}
	}

	var delta *string
	switch {
	case w.Message != nil && w.Message.Content != nil:
		delta = w.Message.Content
	case w.Response != nil:
		delta = w.Response
	default:
		return Fragment{}, &ParseError{RawLine: line, Err: ErrMissingContent}
	}

	f := Fragment{
		Delta:      *delta,
		Final:      w.Done,
		Model:      w.Model,
		DoneReason: w.DoneReason,
	}
	if w.Done {
		f.Stats = &model.GenerationStats{
			LoadDuration:    int64(w.LoadDuration),
			TotalDuration:   int64(w.TotalDuration),
			EvalCount:       int(w.EvalCount),
			PromptEvalCount: int(w.PromptEvalCount),
			EvalDuration:    int64(w.EvalDuration),
		}
	}
	return f, nil
}

