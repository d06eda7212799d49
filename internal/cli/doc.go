// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the chatai command line.
//
// # Commands
//
//   - ask: Single question, streamed to stdout
//   - chat: Interactive chat with line editing and input history
//   - models: Installed model table
//   - serve: HTTP chat API with hot-reloaded configuration
//   - history: Stored conversation listing, search, export and deletion
//   - config: Effective configuration, default file creation
//   - version: Build information
//
// Global flags --config, --ollama-url and --debug apply to every command.
//
// # Output
//
// Replies are written as they stream. A reply cut short by an error is
// followed by an [incomplete] marker and the error is printed to stderr.
// Colours are dropped when stdout is not a terminal or NO_COLOR is set.
//
// # Usage
//
//	func main() {
//		os.Exit(cli.Execute())
//	}
package cli
