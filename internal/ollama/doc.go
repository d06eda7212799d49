// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// OpenChat returns the raw reply body so the
// stream package can decode streamed and buffered replies the same way, and
// failed requests come back as *ClientError with a category and, for
// non-2xx replies, the HTTP status.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - ChatRequest: Request body for /api/chat
//   - ModelInfo / ModelTag: Installed models from /api/tags
//   - ClientError: Categorised failure (not running, timeout, status, ...)
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	body, err := client.OpenChat(ctx, ollama.ChatRequest{Model: m, Messages: msgs, Stream: true})
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
package ollama
