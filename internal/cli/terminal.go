// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Terminal detection for the chatai CLI.
//
// Interactive terminals get colours and line editing; piped output gets
// plain text.
package cli

import (
	"io"
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// fdStream is satisfied by *os.File.
type fdStream interface {
	Fd() uintptr
}

// isTerminal reports whether s is backed by a terminal. Buffers and pipes
// used by tests are never terminals.
func isTerminal(s any) bool {
	f, ok := s.(fdStream)
	return ok && term.IsTerminal(int(f.Fd()))
}

// interactiveInput reports whether r is the process's terminal stdin, the
// only input liner can drive.
func interactiveInput(r io.Reader) bool {
	return r == io.Reader(os.Stdin) && isTerminal(os.Stdin)
}

// =============================================================================
// TERMINAL WIDTH
// =============================================================================

const (
	// DefaultTerminalWidth is used when w is not a terminal.
	DefaultTerminalWidth = 80

	// MinTerminalWidth keeps listings readable in very narrow windows.
	MinTerminalWidth = 40
)

// terminalWidth returns the width of the terminal behind w.
func terminalWidth(w io.Writer) int {
	f, ok := w.(fdStream)
	if !ok {
		return DefaultTerminalWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	switch {
	case err != nil || width <= 0:
		return DefaultTerminalWidth
	case width < MinTerminalWidth:
		return MinTerminalWidth
	default:
		return width
	}
}

// =============================================================================
// COLOR OUTPUT CONTROL
// =============================================================================

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled returns true if colored output should be used on stdout.
// NO_COLOR wins over FORCE_COLOR, which wins over TTY detection.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		colorsEnabled = colorsFor(os.Getenv, isTerminal(os.Stdout))
	})
	return colorsEnabled
}

func colorsFor(getenv func(string) string, tty bool) bool {
	switch {
	case getenv("NO_COLOR") != "":
		return false
	case getenv("FORCE_COLOR") != "":
		return true
	default:
		return tty
	}
}

// GetColorProfile returns the termenv profile for lipgloss: Ascii when
// colours are off.
func GetColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
