// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatai.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - StreamConfig: Exchange mode, limits and snapshot rate
//   - Duration: A duration written as "2m30s" in config files
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (OLLAMA_API_URL, CHATAI_*)
//   - ~/.chatai/config.toml
//   - ~/.chatai/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Build the pieces that consume it:
//
//	client := ollama.NewClientWithConfig(cfg.ClientConfig())
//	exchanger := session.NewExchanger(cfg.SessionConfig(logger, m), client, nil)
//
// Reload on change:
//
//	go config.Watch(ctx, path, apply, config.WatchOptions{})
package config
