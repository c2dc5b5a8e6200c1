// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeranaias/offchat/internal/config"
)

// =============================================================================
// CONFIG COMMANDS
// =============================================================================

// ConfigPaths is the payload of `offchat config path`.
type ConfigPaths struct {
	Config   string `json:"config"`
	Settings string `json:"settings"`
	Data     string `json:"data"`
	History  string `json:"history"`
	Log      string `json:"log"`
}

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change config.toml",
		Long: `config.toml holds engine, storage, server and log options. Chat settings
such as the model and temperature live in settings.toml and are changed
from the chat itself.`,
	}
	cmd.AddCommand(
		newConfigShowCommand(a),
		newConfigPathCommand(a),
		newConfigInitCommand(a),
		newConfigGetCommand(a),
		newConfigSetCommand(a),
		newConfigKeysCommand(a),
	)
	return cmd
}

func newConfigShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(false); err != nil {
				return err
			}
			if a.jsonMode {
				return OutputJSON(a.stdout, "config show", a.cfg)
			}
			fmt.Fprint(a.stdout, a.cfg.String())
			return nil
		},
	}
}

func newConfigPathCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print where configuration and data are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(false); err != nil {
				return err
			}
			paths, err := a.paths()
			if err != nil {
				return err
			}
			if a.jsonMode {
				return OutputJSON(a.stdout, "config path", paths)
			}
			fmt.Fprintln(a.stdout, RenderField("Config", paths.Config))
			fmt.Fprintln(a.stdout, RenderField("Settings", paths.Settings))
			fmt.Fprintln(a.stdout, RenderField("Data", paths.Data))
			fmt.Fprintln(a.stdout, RenderField("History", paths.History))
			fmt.Fprintln(a.stdout, RenderField("Log", paths.Log))
			return nil
		},
	}
}

func (a *app) paths() (ConfigPaths, error) {
	var p ConfigPaths
	var err error
	if p.Config, err = a.resolveConfigPath(); err != nil {
		return p, err
	}
	file, err := a.settingsFile()
	if err != nil {
		return p, err
	}
	p.Settings = file.Path()
	if p.Data, err = a.cfg.DataDir(); err != nil {
		return p, err
	}
	if p.History, err = a.historyPath(); err != nil {
		return p, err
	}
	p.Log = a.cfg.LogFile()
	return p, nil
}

func newConfigInitCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config.toml with the default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.resolveConfigPath()
			if err != nil {
				return &ConfigError{Err: err}
			}
			if _, err := os.Stat(path); err == nil && !force {
				return &UsageError{Arg: "config", Reason: path + " already exists", Example: "offchat config init --force"}
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return &ConfigError{Path: path, Err: err}
			}
			if err := config.SaveTo(config.Default(), path); err != nil {
				return &ConfigError{Path: path, Err: err}
			}
			if a.jsonMode {
				return OutputJSON(a.stdout, "config init", map[string]string{"path": path})
			}
			fmt.Fprintln(a.stdout, SuccessStyle.Render("[OK]")+" Wrote "+path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one value, e.g. engine.ollama_url",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(false); err != nil {
				return err
			}
			v, err := a.cfg.Get(args[0])
			if err != nil {
				return &UsageError{Arg: "key", Reason: err.Error(), Example: "offchat config keys"}
			}
			if a.jsonMode {
				return OutputJSON(a.stdout, "config get", map[string]any{"key": args[0], "value": v})
			}
			fmt.Fprintln(a.stdout, v)
			return nil
		},
	}
}

func newConfigSetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one value and save config.toml",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(false); err != nil {
				return err
			}
			if err := a.cfg.Set(args[0], args[1]); err != nil {
				return &UsageError{Arg: "key", Reason: err.Error(), Example: "offchat config set server.addr 127.0.0.1:9000"}
			}
			if err := a.cfg.Validate(); err != nil {
				return &ConfigError{Err: err}
			}
			path, err := a.resolveConfigPath()
			if err != nil {
				return &ConfigError{Err: err}
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return &ConfigError{Path: path, Err: err}
			}
			if err := config.SaveTo(a.cfg, path); err != nil {
				return &ConfigError{Path: path, Err: err}
			}
			if a.jsonMode {
				return OutputJSON(a.stdout, "config set", map[string]string{"key": args[0], "value": args[1]})
			}
			fmt.Fprintf(a.stdout, "%s %s = %s\n", SuccessStyle.Render("[OK]"), args[0], args[1])
			return nil
		},
	}
}

func newConfigKeysCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List every settable key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys := config.Keys()
			if a.jsonMode {
				return OutputJSON(a.stdout, "config keys", keys)
			}
			for _, k := range keys {
				fmt.Fprintln(a.stdout, k)
			}
			return nil
		},
	}
}
