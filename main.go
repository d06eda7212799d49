// chatai - Streaming chat client and API for a local Ollama model server.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/jeranaias/chatai/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	// A .env in the working directory may set OLLAMA_API_URL and the
	// CHATAI_* overrides. Variables already in the environment win.
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
