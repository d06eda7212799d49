// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API in front of the exchange core.
//
// # Endpoints
//
//   - POST   /api/chat                - Ask one question (NDJSON stream or one JSON reply)
//   - GET    /api/models              - List installed models
//   - GET    /api/conversations       - List stored conversations (?q= searches titles and text)
//   - POST   /api/conversations       - Allocate a conversation ID
//   - GET    /api/conversations/{id}  - Stored transcript
//   - GET    /api/conversations/{id}/export - Markdown or JSON download (?format=json)
//   - DELETE /api/conversations/{id}  - Delete a conversation
//   - POST   /api/auth/signin         - Record a sign-in
//   - GET    /health                  - Health check
//   - GET    /metrics                 - Prometheus metrics
//
// # Chat Streaming
//
// A streamed chat answers with application/x-ndjson, one ChatEvent per line:
// zero or more "snapshot" events carrying the full text so far, then exactly
// one "complete" or "error" event. Once the first line is written the status
// is 200, so failures after that point travel as an error event. A client
// that disconnects cancels the exchange and receives nothing further.
//
// # Usage
//
//	srv := server.New(server.Options{
//		Backend:      client,
//		Session:      cfg.SessionConfig(logger, m),
//		DefaultModel: cfg.DefaultModel,
//		Store:        store,
//		Logger:       logger,
//		Metrics:      m,
//	})
//	err := srv.ListenAndServe(cfg.Server.ListenAddr)
package server
