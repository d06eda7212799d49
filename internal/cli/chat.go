// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for the chatai CLI.
//
// Command: chat
// Short:   Start an interactive chat session
//
// Examples:
//   chatai chat                          Start interactive chat (default model)
//   chatai chat --model qwen2.5:14b      Use specific model
//   chatai chat --conversation new       Store the chat as a conversation
//   chatai chat --conversation 3f2a...   Resume a stored conversation
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /clear, /c          Start over with an empty history
//   /model [name]       Show or switch model
//   /status, /s         Show session statistics
//   /history            Show conversation history
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel current generation
//   Ctrl+D              Exit chat
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/chatai/internal/config"
	"github.com/jeranaias/chatai/internal/model"
	"github.com/jeranaias/chatai/internal/session"
	"github.com/jeranaias/chatai/internal/storage"
	"github.com/jeranaias/chatai/internal/util"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of user input. io.EOF ends the chat.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads the saved input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt. Ctrl+C at the
// prompt ends the chat like Ctrl+D.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	var buf strings.Builder
	if _, err := c.line.WriteHistory(&buf); err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	_ = util.AtomicWriteFile(c.historyFile, []byte(buf.String()), 0600)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// scannerInput reads piped input line by line, without prompts.
type scannerInput struct {
	sc *bufio.Scanner
}

func newScannerInput(r io.Reader) *scannerInput {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	return &scannerInput{sc: sc}
}

func (s *scannerInput) ReadInput(string) (string, error) {
	if s.sc.Scan() {
		return s.sc.Text(), nil
	}
	if err := s.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *scannerInput) Close() {}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession holds the state for an interactive chat session.
type ChatSession struct {
	Model  string
	System string
	Quiet  bool

	exchanger  *session.Exchanger
	transcript session.Transcript

	// Stored conversation; both nil when the chat is not persisted.
	store  *storage.Store
	convID string

	out    io.Writer
	errOut io.Writer

	// interrupts delivers Ctrl+C while a reply is streaming.
	interrupts <-chan os.Signal

	StartTime   time.Time
	Exchanges   int
	TotalTokens int
}

// newMemoryTranscript returns an empty in-memory transcript.
func newMemoryTranscript() session.Transcript {
	return model.NewEmptyTranscript()
}

// =============================================================================
// COMMAND
// =============================================================================

func newChatCommand(a *app) *cobra.Command {
	var (
		modelName    string
		conversation string
		system       string
		quiet        bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs := &ChatSession{
				Model:     a.modelOr(modelName),
				System:    system,
				Quiet:     quiet,
				exchanger: a.exchanger(a.newUpstream(a.cfg), nil, nil),
				out:       cmd.OutOrStdout(),
				errOut:    cmd.ErrOrStderr(),
				StartTime: time.Now(),
			}

			cs.transcript = newMemoryTranscript()
			if conversation != "" {
				store, err := a.openStore()
				if err != nil {
					return err
				}
				defer store.Close()
				cs.store = store
				if err := cs.openConversation(cmd.Context(), conversation); err != nil {
					return err
				}
			}

			var input lineReader
			if in := cmd.InOrStdin(); interactiveInput(in) {
				input = NewChatCLI()
			} else {
				input = newScannerInput(in)
			}
			defer input.Close()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)
			cs.interrupts = sigs

			return cs.Run(cmd.Context(), input)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&modelName, "model", "m", "", "model to use (default from config)")
	f.StringVarP(&conversation, "conversation", "c", "", `stored conversation to resume ("new" starts one)`)
	f.StringVarP(&system, "system", "s", "", "system prompt")
	f.BoolVarP(&quiet, "quiet", "q", false, "minimal output")
	return cmd
}

// openConversation switches the chat to a stored conversation.
func (cs *ChatSession) openConversation(ctx context.Context, id string) error {
	if id == newConversation {
		id = storage.NewConversationID()
	}
	t, err := cs.store.Conversations().OpenTranscript(ctx, id, cs.Model)
	if err != nil {
		return err
	}
	cs.transcript = t
	cs.convID = id
	return nil
}

// =============================================================================
// REPL
// =============================================================================

// Run reads lines until EOF or /quit.
func (cs *ChatSession) Run(ctx context.Context, input lineReader) error {
	if !cs.Quiet {
		cs.printWelcome()
	}

	for {
		line, err := input.ReadInput(PromptStyle.Render("chatai> "))
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(cs.out)
				cs.printExitSummary()
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		keepGoing, err := cs.handleLine(ctx, line)
		if err != nil {
			DisplayError(cs.errOut, err)
		}
		if !keepGoing {
			cs.printExitSummary()
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handleLine processes one input line. It returns false to end the chat.
func (cs *ChatSession) handleLine(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return true, nil
	case strings.HasPrefix(line, "/"):
		return cs.handleSlashCommand(ctx, line)
	case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
		return false, nil
	}
	return true, cs.processMessage(ctx, line)
}

// processMessage runs one exchange. Ctrl+C cancels it and keeps the chat.
func (cs *ChatSession) processMessage(ctx context.Context, prompt string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-cs.interrupts:
			cancel()
		case <-ctx.Done():
		}
	}()

	req := session.Request{Prompt: prompt, Model: cs.Model}
	if cs.System != "" {
		req.History = append([]model.Message{model.NewSystemMessage(cs.System)}, cs.transcript.Messages()...)
	}

	msg, err := runExchange(ctx, cs.exchanger, cs.transcript, req, cs.out, cs.Quiet)
	if session.IsCancelled(err) {
		fmt.Fprintln(cs.out, WarningStyle.Render("[cancelled]"))
		return nil
	}
	if err != nil {
		return err
	}

	cs.Exchanges++
	if msg.Meta != nil {
		cs.TotalTokens += msg.Meta.EvalCount
	}
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand processes slash commands.
// Returns (shouldContinue, error) where shouldContinue=false means exit.
func (cs *ChatSession) handleSlashCommand(ctx context.Context, line string) (bool, error) {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	args := parts[1:]

	switch command {
	case "/help", "/h", "/?", "/":
		cs.printHelp()
	case "/clear", "/c":
		if cs.store != nil {
			if err := cs.openConversation(ctx, newConversation); err != nil {
				return true, err
			}
			fmt.Fprintln(cs.out, DimStyle.Render("[New conversation "+cs.convID+"]"))
		} else {
			cs.transcript = newMemoryTranscript()
			fmt.Fprintln(cs.out, DimStyle.Render("[Conversation cleared]"))
		}
	case "/model", "/m":
		if len(args) == 0 {
			fmt.Fprintf(cs.out, "Current model: %s\n", cs.Model)
		} else {
			cs.Model = args[0]
			fmt.Fprintf(cs.out, "%s Switched to model: %s\n", SuccessStyle.Render("[OK]"), cs.Model)
		}
	case "/status", "/s":
		cs.printStatus()
	case "/history":
		cs.printHistory()
	case "/quit", "/q", "/exit":
		return false, nil
	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
	return true, nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func (cs *ChatSession) printWelcome() {
	fmt.Fprintln(cs.out, TitleStyle.UnsetMarginBottom().Render("chatai interactive chat"))
	fmt.Fprintln(cs.out, SeparatorStyle.Render(strings.Repeat("─", 30)))
	fmt.Fprintf(cs.out, "%s %s\n", RenderLabel("Model:", 14), cs.Model)
	if cs.convID != "" {
		fmt.Fprintf(cs.out, "%s %s\n", RenderLabel("Conversation:", 14), cs.convID)
		if n := len(cs.transcript.Messages()); n > 0 {
			fmt.Fprintf(cs.out, "%s %d messages\n", RenderLabel("Resumed:", 14), n)
		}
	}
	fmt.Fprintln(cs.out, DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(cs.out)
}

func (cs *ChatSession) printHelp() {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/clear, /c", "Start over with an empty history"},
		{"/model [name]", "Show or switch model"},
		{"/status, /s", "Show session statistics"},
		{"/history", "Show conversation history"},
		{"/quit, /q", "Exit chat"},
	}
	fmt.Fprintln(cs.out)
	for _, c := range commands {
		fmt.Fprintf(cs.out, "  %-15s  %s\n", c.cmd, DimStyle.Render(c.desc))
	}
	fmt.Fprintln(cs.out)
	fmt.Fprintln(cs.out, DimStyle.Render("Tip: Ctrl+C cancels current generation, Ctrl+D exits"))
}

func (cs *ChatSession) printStatus() {
	fmt.Fprintf(cs.out, "  %s %s\n", RenderLabel("Model:", 12), cs.Model)
	fmt.Fprintf(cs.out, "  %s %s\n", RenderLabel("Duration:", 12), formatDurationShort(time.Since(cs.StartTime)))
	fmt.Fprintf(cs.out, "  %s %d messages\n", RenderLabel("History:", 12), len(cs.transcript.Messages()))
	fmt.Fprintf(cs.out, "  %s %d\n", RenderLabel("Exchanges:", 12), cs.Exchanges)
	fmt.Fprintf(cs.out, "  %s %d\n", RenderLabel("Tokens:", 12), cs.TotalTokens)
}

func (cs *ChatSession) printHistory() {
	msgs := cs.transcript.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(cs.out, DimStyle.Render("[No messages yet]"))
		return
	}
	for i, msg := range msgs {
		content := strings.ReplaceAll(msg.Preview(100), "\n", " ")
		fmt.Fprintf(cs.out, "  %d. %s: %s\n", i+1, msg.Role.DisplayName(), content)
	}
}

func (cs *ChatSession) printExitSummary() {
	if cs.Quiet || cs.Exchanges == 0 {
		return
	}
	fmt.Fprintf(cs.out, "%s %d exchanges, %d tokens, %s\n",
		DimStyle.Render("Session:"),
		cs.Exchanges, cs.TotalTokens,
		formatDurationShort(time.Since(cs.StartTime)))
	if cs.convID != "" {
		fmt.Fprintf(cs.out, "%s %s\n", DimStyle.Render("Saved as conversation"), cs.convID)
	}
}
