// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types, display and exit codes for the chatai CLI.
//
// Commands always return errors; Execute displays them once and maps them
// to an exit code.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/chatai/internal/config"
	"github.com/jeranaias/chatai/internal/ollama"
	"github.com/jeranaias/chatai/internal/session"
	"github.com/jeranaias/chatai/internal/storage"
)

// =============================================================================
// EXIT CODES - Specific codes for different error categories
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the model server could not be reached or refused
	ExitNetworkError = 5
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitCancelled indicates the user interrupted the operation
	ExitCancelled = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError is a bad flag or argument.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// ConfigError is a configuration that could not be loaded or is invalid.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "configuration: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError prints err to w in the error style. Usage errors get a hint.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())

	var usage *UsageError
	if errors.As(err, &usage) {
		fmt.Fprintln(w, DimStyle.Render("Run 'chatai --help' for usage."))
		return
	}
	if ollama.IsNotRunning(err) {
		fmt.Fprintln(w, DimStyle.Render("Start the model server with: ollama serve"))
	}
}

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}

	var cfgErr *ConfigError
	var verrs config.ValidateErrors
	if errors.As(err, &cfgErr) || errors.As(err, &verrs) {
		return ExitConfigError
	}

	if errors.Is(err, storage.ErrNotFound) {
		return ExitNotFoundError
	}

	if kind, ok := session.KindOf(err); ok {
		switch kind {
		case session.KindCancelled:
			return ExitCancelled
		case session.KindTimeout:
			return ExitTimeoutError
		case session.KindTransport, session.KindUpstreamStatus:
			return ExitNetworkError
		}
		return ExitGeneralError
	}

	switch {
	case ollama.IsTimeout(err):
		return ExitTimeoutError
	case ollama.IsNotRunning(err), ollama.StatusCode(err) != 0:
		return ExitNetworkError
	}
	return ExitGeneralError
}
