// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line interface functionality.
// This file contains the reply printer and formatting helpers shared by
// several commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jeranaias/chatai/internal/model"
	"github.com/jeranaias/chatai/internal/session"
)

// =============================================================================
// REPLY PRINTER
// =============================================================================

// replyPrinter writes a streamed reply to w as it grows. Each snapshot
// extends the previous one, so only the new suffix is written.
type replyPrinter struct {
	w       io.Writer
	printed int
	quiet   bool
}

func (p *replyPrinter) snapshot(text string) {
	if len(text) <= p.printed {
		return
	}
	io.WriteString(p.w, text[p.printed:])
	p.printed = len(text)
}

// complete flushes whatever the last snapshot missed and prints the stats.
func (p *replyPrinter) complete(msg model.Message) {
	p.snapshot(msg.Content)
	fmt.Fprintln(p.w)
	if !p.quiet && msg.Meta != nil {
		fmt.Fprintln(p.w, DimStyle.Render(msg.Meta.Format()))
	}
}

// failed ends a reply that stopped early. Partial text is marked.
func (p *replyPrinter) failed(ee *session.ExchangeError) {
	p.snapshot(ee.Partial)
	if p.printed == 0 {
		return
	}
	fmt.Fprintf(p.w, " %s\n", RenderIncomplete())
}

// runExchange runs one exchange, printing the reply to w, and returns the
// committed message or the terminal error.
func runExchange(ctx context.Context, ex *session.Exchanger, t session.Transcript, req session.Request, w io.Writer, quiet bool) (model.Message, error) {
	p := &replyPrinter{w: w, quiet: quiet}
	sess, err := ex.StartExchangeWith(ctx, t, req, session.Handlers{
		OnSnapshot: p.snapshot,
	})
	if err != nil {
		return model.Message{}, &UsageError{Err: err}
	}

	msg, err := sess.Wait()
	if err != nil {
		var ee *session.ExchangeError
		if errors.As(err, &ee) {
			p.failed(ee)
		}
		return model.Message{}, err
	}
	p.complete(msg)
	return msg, nil
}

// =============================================================================
// FORMATTING
// =============================================================================

// formatDurationShort formats a short duration string.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}

// formatAge renders how long ago t was, relative to now.
func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}
