// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one question/answer exchange against the upstream
// model server.
package session

import "context"

// Exchanger starts exchanges that share one upstream, one configuration and,
// unless overridden per call, one transcript.
type Exchanger struct {
	cfg        Config
	upstream   Upstream
	transcript Transcript
}

// NewExchanger creates an exchanger. transcript may be nil.
func NewExchanger(cfg Config, upstream Upstream, transcript Transcript) *Exchanger {
	return &Exchanger{cfg: cfg, upstream: upstream, transcript: transcript}
}

// StartExchange creates and starts a session against the shared transcript.
func (e *Exchanger) StartExchange(ctx context.Context, req Request, h Handlers) (*Session, error) {
	return e.StartExchangeWith(ctx, e.transcript, req, h)
}

// StartExchangeWith starts a session that commits to transcript instead of
// the shared one.
func (e *Exchanger) StartExchangeWith(ctx context.Context, transcript Transcript, req Request, h Handlers) (*Session, error) {
	s := New(e.cfg, e.upstream, transcript)
	if err := s.Start(ctx, req, h); err != nil {
		return nil, err
	}
	return s, nil
}

// Config returns the configuration applied to new sessions.
func (e *Exchanger) Config() Config {
	return e.cfg
}
