// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders stored conversations as Markdown or JSON documents.
//
// # Formats
//
//   - markdown: YAML frontmatter, a session header and one section per message
//   - json: the stored conversation as indented JSON
//
// # Usage
//
//	exp, err := export.New("markdown", export.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	data, err := exp.Export(conv)
//	name := export.Filename(conv, exp, time.Now())
package export
