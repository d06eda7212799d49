// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single question command for the chatai CLI.
//
// Command: ask [question]
// Short:   Ask a single question
//
// Examples:
//   chatai ask "What is the capital of France?"
//   echo "Summarize this" | chatai ask
//   chatai ask --model mistral --temperature 0.2 "Explain goroutines"
//   chatai ask --conversation new "Start a stored conversation"
//   chatai ask --conversation 3f2a... "Follow up on it"
//
// Flags:
//   -m, --model NAME          Use specific model (overrides config)
//   -c, --conversation ID     Continue a stored conversation ("new" starts one)
//   -s, --system TEXT         System prompt sent ahead of the history
//   -t, --temperature N       Sampling temperature (0-2)
//       --buffer              Ask for the whole reply as one document
//   -q, --quiet               Do not print generation stats
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatai/internal/model"
	"github.com/jeranaias/chatai/internal/ollama"
	"github.com/jeranaias/chatai/internal/session"
	"github.com/jeranaias/chatai/internal/storage"
)

// newConversation asks --conversation to allocate a fresh ID.
const newConversation = "new"

type askOptions struct {
	model        string
	conversation string
	system       string
	temperature  float64
	buffer       bool
	quiet        bool
}

func newAskCommand(a *app) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question",
		Long: `Ask a single question and stream the answer to stdout.

The question is read from stdin when no arguments are given.`,
		Example: `  chatai ask "What is the capital of France?"
  echo "Summarize this" | chatai ask
  chatai ask --conversation new "Start a stored conversation"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := readQuestion(cmd, args)
			if err != nil {
				return err
			}
			return a.runAsk(cmd, question, opts, cmd.Flags().Changed("temperature"))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.model, "model", "m", "", "model to use (default from config)")
	f.StringVarP(&opts.conversation, "conversation", "c", "", `stored conversation to continue ("new" starts one)`)
	f.StringVarP(&opts.system, "system", "s", "", "system prompt")
	f.Float64VarP(&opts.temperature, "temperature", "t", 0, "sampling temperature (0-2)")
	f.BoolVar(&opts.buffer, "buffer", false, "ask for the whole reply as one document")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "do not print generation stats")
	return cmd
}

// readQuestion joins the arguments, or reads stdin when there are none.
func readQuestion(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	in := cmd.InOrStdin()
	if in == os.Stdin && !stdinIsPipe() {
		return "", &UsageError{Err: fmt.Errorf("no question given")}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read question: %w", err)
	}
	question := strings.TrimSpace(string(data))
	if question == "" {
		return "", &UsageError{Err: fmt.Errorf("no question given")}
	}
	return question, nil
}

func (a *app) runAsk(cmd *cobra.Command, question string, opts askOptions, hasTemperature bool) error {
	if hasTemperature && (opts.temperature < 0 || opts.temperature > 2) {
		return &UsageError{Err: fmt.Errorf("--temperature must be between 0 and 2")}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := a.cfg.SessionConfig(a.log, nil)
	if opts.buffer {
		cfg.Mode = session.ModeBuffer
	}
	ex := session.NewExchanger(cfg, a.newUpstream(a.cfg), nil)

	transcript, convID, closeStore, err := a.askTranscript(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore()

	req := session.Request{Prompt: question, Model: a.modelOr(opts.model)}
	if opts.system != "" {
		req.History = append([]model.Message{model.NewSystemMessage(opts.system)}, transcript.Messages()...)
	}
	if hasTemperature {
		req.Options = &ollama.Options{Temperature: opts.temperature}
	}

	out := cmd.OutOrStdout()
	_, err = runExchange(ctx, ex, transcript, req, out, opts.quiet)
	if err != nil {
		return err
	}
	if convID != "" && !opts.quiet {
		fmt.Fprintln(cmd.ErrOrStderr(), DimStyle.Render("conversation "+convID))
	}
	return nil
}

// askTranscript returns the transcript an ask commits to: a stored
// conversation with --conversation, otherwise a throwaway one.
func (a *app) askTranscript(ctx context.Context, opts askOptions) (session.Transcript, string, func(), error) {
	if opts.conversation == "" {
		return model.NewEmptyTranscript(), "", func() {}, nil
	}

	store, err := a.openStore()
	if err != nil {
		return nil, "", nil, err
	}
	id := opts.conversation
	if id == newConversation {
		id = storage.NewConversationID()
	}
	t, err := store.Conversations().OpenTranscript(ctx, id, a.modelOr(opts.model))
	if err != nil {
		store.Close()
		return nil, "", nil, err
	}
	return t, id, func() { store.Close() }, nil
}
