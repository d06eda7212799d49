// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - Installed model listing for the chatai CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatai/internal/ollama"
)

func newModelsCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"list"},
		Short:   "List models installed on the model server",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := a.newUpstream(a.cfg).ModelTags(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tags)
			}
			printModels(cmd.OutOrStdout(), tags, a.cfg.DefaultModel, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// printModels renders tags as an aligned table. The default model is
// starred.
func printModels(w io.Writer, tags []ollama.ModelTag, defaultModel string, now time.Time) {
	if len(tags) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No models installed. Pull one with: ollama pull "+ollama.DefaultModel))
		return
	}

	header := []string{"NAME", "SIZE", "QUANT", "FORMAT", "UPDATED"}
	rows := make([][]string, 0, len(tags))
	for _, t := range tags {
		name := t.Name
		if isDefaultModel(t.Name, defaultModel) {
			name += " *"
		}
		updated := ""
		if !t.Updated.IsZero() {
			updated = formatAge(t.Updated, now)
		}
		rows = append(rows, []string{name, t.Size, t.Quant, t.Format, updated})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	fmt.Fprintln(w, LabelStyle.UnsetWidth().Render(formatRow(header, widths)))
	for _, row := range rows {
		fmt.Fprintln(w, formatRow(row, widths))
	}
}

// formatRow pads cells to their column widths in display cells, so wide
// runes line up.
func formatRow(cells []string, widths []int) string {
	var b strings.Builder
	for i, cell := range cells {
		if i > 0 {
			b.WriteString("  ")
		}
		if i == len(cells)-1 {
			b.WriteString(cell)
			break
		}
		b.WriteString(runewidth.FillRight(cell, widths[i]))
	}
	return strings.TrimRight(b.String(), " ")
}

// isDefaultModel matches "llama3.2" against "llama3.2:latest".
func isDefaultModel(name, defaultModel string) bool {
	if name == defaultModel {
		return true
	}
	return !strings.Contains(defaultModel, ":") && name == defaultModel+":latest"
}
