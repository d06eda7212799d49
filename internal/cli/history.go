// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history.go - Stored conversation management for the chatai CLI.
//
// Command: history [list|show|rm]
//
// Examples:
//   chatai history                  List stored conversations
//   chatai history list --search go Find conversations mentioning "go"
//   chatai history show 3f2a...     Print a stored transcript
//   chatai history rm 3f2a...       Delete a conversation
//   chatai history export 3f2a... -f json -o chat.json
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatai/internal/export"
	"github.com/jeranaias/chatai/internal/storage"
	"github.com/jeranaias/chatai/internal/util"
)

func newHistoryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"conversations"},
		Short:   "Manage stored conversations",
		Args:    usageArgs(cobra.NoArgs),
	}

	var search string
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, newest first",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *storage.Store) error {
				metas, err := store.Conversations().Search(cmd.Context(), search)
				if err != nil {
					return err
				}
				printConversations(cmd.OutOrStdout(), metas, terminalWidth(cmd.OutOrStdout()), time.Now())
				return nil
			})
		},
	}
	list.Flags().StringVar(&search, "search", "", "only conversations whose title or text contains this")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored conversation",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *storage.Store) error {
				conv, err := store.Conversations().Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printConversation(cmd.OutOrStdout(), conv)
				return nil
			})
		},
	}

	rm := &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete stored conversations",
		Args:    usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(store *storage.Store) error {
				for _, id := range args {
					if err := store.Conversations().DeleteConversation(cmd.Context(), id); err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %s\n", SuccessStyle.Render("[OK]"), id)
				}
				return nil
			})
		},
	}

	var format, output string
	exportCmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as Markdown or JSON",
		Long: `Export a conversation as Markdown or JSON.

Without --output the document is written to stdout. An --output directory
gets a file named after the conversation title.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := export.New(format, export.DefaultOptions())
			if err != nil {
				return &UsageError{Err: err}
			}
			return a.withStore(func(store *storage.Store) error {
				conv, err := store.Conversations().Load(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				data, err := exp.Export(conv)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				path := output
				if info, err := os.Stat(output); err == nil && info.IsDir() {
					path = filepath.Join(output, export.Filename(conv, exp, time.Now()))
				}
				if err := util.AtomicWriteFile(path, data, 0644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s exported %s\n", SuccessStyle.Render("[OK]"), path)
				return nil
			})
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", export.FormatMarkdown, "markdown or json")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory (default stdout)")

	cmd.AddCommand(list, show, rm, exportCmd)
	cmd.RunE = list.RunE
	return cmd
}

// withStore opens the conversation store for the duration of fn.
func (a *app) withStore(fn func(*storage.Store) error) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// printConversations lists metas one per line, titles cut to fit width.
func printConversations(w io.Writer, metas []storage.ConversationMeta, width int, now time.Time) {
	if len(metas) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No stored conversations."))
		return
	}
	for _, m := range metas {
		prefix := fmt.Sprintf("%s  %-9s %3d msgs  ", m.ID, formatAge(m.UpdatedAt, now), m.MessageCount)
		room := width - util.StringWidth(prefix)
		if room < 10 {
			room = 10
		}
		fmt.Fprintln(w, DimStyle.Render(prefix)+util.TruncateWidth(m.Title, room))
	}
}

// printConversation prints a whole stored transcript.
func printConversation(w io.Writer, conv *storage.Conversation) {
	fmt.Fprintln(w, TitleStyle.UnsetMarginBottom().Render(conv.Title))
	fmt.Fprintf(w, "%s %s  %s %s\n",
		RenderLabel("Model:", 7), conv.Model,
		RenderLabel("Updated:", 9), conv.UpdatedAt.Format(time.RFC3339))
	fmt.Fprintln(w, RenderSeparator())
	for _, msg := range conv.Messages {
		fmt.Fprintf(w, "%s\n%s\n", PromptStyle.Render(msg.Role.DisplayName()+":"), strings.TrimRight(msg.Content, "\n"))
		if msg.Meta != nil {
			fmt.Fprintln(w, DimStyle.Render(msg.Meta.Format()))
		}
		fmt.Fprintln(w)
	}
}
