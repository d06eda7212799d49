// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns the chunked body of a chat reply into ordered,
// monotonic snapshots of the generated text.
package stream

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// CHUNK DECODER
// =============================================================================

// Decoder converts transport chunks into text without ever splitting a
// multi-byte character. A trailing incomplete UTF-8 sequence is held back and
// prefixed to the next Feed.
//
// A Decoder is not safe for concurrent use; one reader owns it.
type Decoder struct {
	t       transform.Transformer
	pending []byte
	buf     []byte
	started bool
}

// NewDecoder creates a UTF-8 decoder. Invalid bytes inside the stream are
// replaced with U+FFFD and a leading byte order mark is dropped.
func NewDecoder() *Decoder {
	return &Decoder{t: unicode.UTF8.NewDecoder()}
}

// Feed decodes chunk and returns the longest decodable prefix of the held
// bytes plus chunk. An empty chunk is allowed.
func (d *Decoder) Feed(chunk []byte) string {
	return d.decode(chunk, false)
}

// Finish flushes held bytes. An irrecoverable trailing sequence becomes
// U+FFFD. Finish never fails and leaves the decoder ready for reuse.
func (d *Decoder) Finish() string {
	out := d.decode(nil, true)
	d.Reset()
	return out
}

// Pending returns the number of bytes held for the next call.
func (d *Decoder) Pending() int {
	return len(d.pending)
}

// Reset drops held bytes and releases the scratch buffer.
func (d *Decoder) Reset() {
	d.t.Reset()
	d.pending = nil
	d.buf = nil
	d.started = false
}

func (d *Decoder) decode(chunk []byte, atEOF bool) string {
	out := d.transform(chunk, atEOF)
	if !d.started && out != "" {
		d.started = true
		out = strings.TrimPrefix(out, bom)
	}
	return out
}

// bom is U+FEFF as decoded text.
const bom = "\uFEFF"

func (d *Decoder) transform(chunk []byte, atEOF bool) string {
	src := chunk
	if len(d.pending) > 0 {
		src = append(d.pending, chunk...)
		d.pending = nil
	}
	if len(src) == 0 {
		return ""
	}

	var out strings.Builder
	for len(src) > 0 {
		// Each invalid byte can expand to a three byte replacement.
		need := 3*len(src) + utf8.UTFMax
		if cap(d.buf) < need {
			d.buf = make([]byte, need)
		}
		dst := d.buf[:cap(d.buf)]

		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			return out.String()
		case errors.Is(err, transform.ErrShortSrc):
			d.pending = append([]byte(nil), src...)
			return out.String()
		case errors.Is(err, transform.ErrShortDst):
			if nSrc == 0 {
				d.buf = make([]byte, 2*len(dst))
			}
		default:
			// The UTF-8 decoder only reports short buffers. Anything else
			// is treated as undecodable input.
			out.WriteRune(utf8.RuneError)
			return out.String()
		}
	}
	return out.String()
}
