// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small string and file helpers shared by chatai's
// packages.
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis, for log fields
//   - TruncateWidth: truncation to terminal display cells
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	log.Info("exchange started", zap.String("prompt", util.TruncateRunes(p, 60)))
//	fmt.Println(util.TruncateWidth(title, width))
//	err := util.AtomicWriteFile(path, data, 0600)
package util
