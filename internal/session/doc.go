// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one question/answer exchange against the upstream
// model server.
//
// A Session owns the stream pipeline for its reply. One goroutine reads the
// upstream body and feeds the pipeline; a second delivers events to the
// caller's Handlers, coalescing snapshots when the caller is slower than the
// upstream. A finished reply is committed to the Transcript together with its
// prompt, atomically, before OnComplete runs.
//
// State machine:
//
//	Idle -> Streaming -> Completed
//	                  -> Failed     (OnError with partial text, nothing committed)
//	                  -> Cancelled  (no further events, nothing committed)
//
// Usage:
//
//	ex := session.NewExchanger(cfg, client, transcript)
//	s, err := ex.StartExchange(ctx, session.Request{Prompt: "hi", Model: "llama3.2"}, session.Handlers{
//	    OnSnapshot: func(text string) { render(text) },
//	})
//	msg, err := s.Wait()
package session
