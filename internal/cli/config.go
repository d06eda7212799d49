// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for chatai.
//
// Command: config [subcommand]
// Short:   View and create configuration
//
// Subcommands:
//   show (default)      Display the effective configuration
//   init                Write a default configuration file
//   path                Show configuration file path
//
// Examples:
//   chatai config                  Show effective config (default)
//   chatai config show --json      Config in JSON format
//   chatai config init             Create ~/.chatai/config.toml
//   chatai config init --force     Overwrite it with defaults
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatai/internal/config"
)

// skipConfig lets a subcommand run when the configuration is missing or broken.
func skipConfig(cmd *cobra.Command, args []string) error { return nil }

func newConfigCommand(a *app) *cobra.Command {
	var asJSON bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(a.cfg)
			}
			fmt.Fprint(out, a.cfg.String())
			return nil
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	var force bool
	initCmd := &cobra.Command{
		Use:               "init",
		Short:             "Write a default configuration file",
		Args:              usageArgs(cobra.NoArgs),
		PersistentPreRunE: skipConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configFile()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &UsageError{Err: fmt.Errorf("%s already exists (use --force to overwrite)", path)}
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	path := &cobra.Command{
		Use:               "path",
		Short:             "Show configuration file path",
		Args:              usageArgs(cobra.NoArgs),
		PersistentPreRunE: skipConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.configFile()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and create configuration",
		Args:  usageArgs(cobra.NoArgs),
		RunE:  show.RunE,
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.AddCommand(show, initCmd, path)
	return cmd
}

// configFile is the --config path or the default TOML location.
func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigPathTOML()
}
