// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns the chunked body of a chat reply into ordered,
// monotonic snapshots of the generated text.
package stream

import "strings"

// =============================================================================
// LINE FRAMER
// =============================================================================

// LineFramer splits decoded text into complete lines. Text after the last
// newline is kept as a partial line and joined with the next Push.
//
// Whitespace-only lines are dropped; the upstream sends them as heartbeats.
// A trailing carriage return is stripped so CRLF streams frame the same way.
type LineFramer struct {
	pending strings.Builder
}

// NewLineFramer creates an empty framer.
func NewLineFramer() *LineFramer {
	return &LineFramer{}
}

// Push appends text and returns every line it completed, in order.
func (f *LineFramer) Push(text string) []string {
	var lines []string
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			f.pending.WriteString(text)
			return lines
		}

		line := text[:i]
		text = text[i+1:]
		if f.pending.Len() > 0 {
			f.pending.WriteString(line)
			line = f.pending.String()
			f.pending.Reset()
		}

		if line = trimLine(line); line != "" {
			lines = append(lines, line)
		}
	}
}

// Flush returns the pending partial line, if it holds anything other than
// whitespace. The upstream may close without a trailing newline.
func (f *LineFramer) Flush() (string, bool) {
	line := trimLine(f.pending.String())
	f.pending.Reset()
	return line, line != ""
}

// Pending returns the raw partial line held for the next Push.
func (f *LineFramer) Pending() string {
	return f.pending.String()
}

// Reset drops the partial line.
func (f *LineFramer) Reset() {
	f.pending.Reset()
}

func trimLine(line string) string {
	line = strings.TrimSuffix(line, "\r")
	if strings.TrimSpace(line) == "" {
		return ""
	}
	return line
}
