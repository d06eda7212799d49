// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations and sign-in records in SQLite.
//
// Storage uses the pure-Go modernc.org/sqlite driver, so no cgo is needed.
// A Store owns one database and hands out two views over it:
//
//   - ConversationStore: committed exchanges grouped by conversation ID
//   - Accounts: users recorded at sign-in, keyed by (email, provider)
//
// # Usage
//
//	store, err := storage.Open("~/.chatai/chatai.db", logger)
//	convs := store.Conversations()
//	transcript, err := convs.OpenTranscript(ctx, id, "llama3.2")
//	// transcript can be handed to a session; every committed exchange
//	// is written before it becomes visible in memory.
//
// # Storage Location
//
// The database lives at ~/.chatai/chatai.db unless [storage] db_path says
// otherwise.
package storage
