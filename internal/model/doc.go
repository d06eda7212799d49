// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Message: A committed message with role, content, timestamp and optional stats
//   - GenerationStats: Timing data reported with the final fragment of a reply
//   - Transcript: Ordered, append-only history that commits whole exchanges
//   - Role: Message role enumeration (user, assistant, system)
//
// # Usage
//
//	tr := model.NewEmptyTranscript()
//	err := tr.AppendExchange(
//	    model.NewUserMessage("hi"),
//	    model.NewAssistantMessage("Hello", stats),
//	)
package model
