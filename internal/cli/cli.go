// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command and shared wiring for the chatai CLI.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/chatai/internal/config"
	"github.com/jeranaias/chatai/internal/logging"
	"github.com/jeranaias/chatai/internal/metrics"
	"github.com/jeranaias/chatai/internal/ollama"
	"github.com/jeranaias/chatai/internal/session"
	"github.com/jeranaias/chatai/internal/storage"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// APPLICATION STATE
// =============================================================================

// app is the state shared by every command of one invocation.
type app struct {
	// Global flags
	configPath string
	ollamaURL  string
	debug      bool

	cfg *config.Config
	log *zap.Logger

	// newUpstream builds the model server client. Tests replace it.
	newUpstream func(cfg *config.Config) upstream
}

// upstream is what the commands need from the Ollama client.
type upstream interface {
	session.Upstream
	ModelTags(ctx context.Context) ([]ollama.ModelTag, error)
	CheckRunning(ctx context.Context) error
}

func defaultUpstream(cfg *config.Config) upstream {
	return ollama.NewClientWithConfig(cfg.ClientConfig())
}

// loadConfig resolves the configuration for this invocation: the --config
// file or the default files, then the --ollama-url override.
func (a *app) loadConfig(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
		if err != nil {
			return &ConfigError{Err: err}
		}
	} else {
		cfg, err = config.Load()
		if cfg == nil {
			return &ConfigError{Err: err}
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %v (using defaults)\n", WarningStyle.Render("[WARN]"), err)
		}
	}

	if a.ollamaURL != "" {
		cfg.Local.OllamaURL = a.ollamaURL
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return &ConfigError{Err: err}
		}
	}

	a.cfg = cfg
	a.log = logging.New(a.debug || cfg.Log.Debug, isTerminal(cmd.ErrOrStderr()) && ColorsEnabled(), cmd.ErrOrStderr())
	return nil
}

// exchanger builds an exchanger for the configured upstream.
func (a *app) exchanger(up session.Upstream, m *metrics.Metrics, transcript session.Transcript) *session.Exchanger {
	return session.NewExchanger(a.cfg.SessionConfig(a.log, m), up, transcript)
}

// openStore opens the conversation database named by the configuration.
func (a *app) openStore() (*storage.Store, error) {
	store, err := storage.Open(a.cfg.Storage.DBPath, a.log)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return store, nil
}

// modelOr returns name, or the configured default model when name is blank.
func (a *app) modelOr(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return a.cfg.DefaultModel
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the chatai command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{newUpstream: defaultUpstream})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "chatai",
		Short: "Chat with a local Ollama model server",
		Long: `chatai streams answers from a local Ollama model server.

It can ask a single question, hold an interactive chat, and serve an HTTP
chat API with stored conversations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.chatai/config.toml)")
	flags.StringVar(&a.ollamaURL, "ollama-url", "", "Ollama base URL (overrides config)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	root.AddCommand(
		newAskCommand(a),
		newChatCommand(a),
		newModelsCommand(a),
		newServeCommand(a),
		newHistoryCommand(a),
		newConfigCommand(a),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCommand()
	err := root.Execute()
	if err != nil {
		DisplayError(root.ErrOrStderr(), err)
	}
	return GetExitCode(err)
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &UsageError{Err: err}
		}
		return nil
	}
}

// =============================================================================
// VERSION COMMAND
// =============================================================================

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  usageArgs(cobra.NoArgs),
		// The version never needs a configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", TitleStyle.UnsetMarginBottom().Render("chatai"), Version)
	fmt.Fprintf(w, "  %s %s\n", RenderLabel("Commit:", 10), GitCommit)
	fmt.Fprintf(w, "  %s %s\n", RenderLabel("Built:", 10), BuildDate)
	fmt.Fprintf(w, "  %s %s/%s %s\n", RenderLabel("Platform:", 10), runtime.GOOS, runtime.GOARCH, runtime.Version())
}

// stdinIsPipe reports whether stdin carries piped input.
func stdinIsPipe() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice == 0
}
