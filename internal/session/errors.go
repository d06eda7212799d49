// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one question/answer exchange against the upstream
// model server.
package session

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// ErrorKind classifies how an exchange ended badly.
type ErrorKind int

const (
	// KindTransport covers refused, reset or otherwise broken connections.
	KindTransport ErrorKind = iota + 1
	// KindUpstreamStatus is a non-2xx HTTP reply.
	KindUpstreamStatus
	// KindMalformedFragment is a single unparseable line. Never terminal.
	KindMalformedFragment
	// KindEmptyStream means the reply ended without producing any text.
	KindEmptyStream
	// KindCancelled is a caller-initiated stop.
	KindCancelled
	// KindTimeout means the idle or total time limit expired.
	KindTimeout
	// KindCommit means the finished reply could not be written to the transcript.
	KindCommit
)

// String returns the kind name used in logs, metrics and the HTTP API.
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUpstreamStatus:
		return "upstream_status"
	case KindMalformedFragment:
		return "malformed_fragment"
	case KindEmptyStream:
		return "empty_stream"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// =============================================================================
// EXCHANGE ERROR
// =============================================================================

// ExchangeError is the terminal error of an exchange. Partial holds whatever
// text had accumulated; it is for display only and was not committed.
type ExchangeError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int // set for KindUpstreamStatus
	Partial    string
	Cause      error
}

func (e *ExchangeError) Error() string {
	msg := e.Kind.String() + ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExchangeError) Unwrap() error {
	return e.Cause
}

// Incomplete reports whether partial text was produced before the failure.
func (e *ExchangeError) Incomplete() bool {
	return e.Partial != ""
}

// Sentinel causes.
var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
	ErrEmptyPrompt    = errors.New("prompt is empty")

	// ErrCancelled is the cancellation cause set by Session.Cancel.
	ErrCancelled = errors.New("exchange cancelled")
	// ErrIdleTimeout is the cause when no chunk arrived within IdleTimeout.
	ErrIdleTimeout = errors.New("no data from upstream within idle timeout")
	// ErrMaxDuration is the cause when the exchange ran past MaxDuration.
	ErrMaxDuration = errors.New("exchange exceeded maximum duration")
	// ErrReplyTooLarge is returned when a buffered reply passes MaxBufferedBytes.
	ErrReplyTooLarge = errors.New("buffered reply too large")
)

// KindOf returns the kind of an *ExchangeError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return 0, false
}

// IsCancelled reports whether err is a cancelled exchange.
func IsCancelled(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindCancelled
}

// IsTimeout reports whether err is a timed-out exchange.
func IsTimeout(err error) bool {
	k, ok := KindOf(err)
	return ok && k == KindTimeout
}

func newError(kind ErrorKind, partial string, cause error, format string, args ...any) *ExchangeError {
	return &ExchangeError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Partial: partial,
		Cause:   cause,
	}
}
