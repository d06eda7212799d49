// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns the chunked body of a chat reply into ordered,
// monotonic snapshots of the generated text.
//
// The stages run in a fixed order, each owning one concern:
//
//	bytes -> Decoder -> LineFramer -> ParseFragment -> Accumulator -> Snapshot
//
// Decoder never splits a multi-byte character across chunks, LineFramer
// joins partial lines, ParseFragment turns a line into a Fragment or a
// recoverable *ParseError, and Accumulator appends deltas. Pipeline glues
// them for one reply:
//
//	p := stream.NewPipeline()
//	defer p.Release()
//	for chunk := range chunks {
//	    snaps, bad := p.Feed(chunk)
//	    ...
//	}
//	snaps, bad := p.Close()
//
// The final text does not depend on how the body was split into chunks.
package stream
