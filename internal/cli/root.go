// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information, set at build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	return newRootCommand(&app{stdout: stdout, stderr: stderr})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "offchat",
		Short: "Private voice and text chat with a local language model",
		Long: `offchat runs a language model and a speech recognizer on this machine
and lets you talk to them from a full screen chat, a line-mode prompt,
one-shot commands or a local HTTP/WebSocket API. Nothing leaves the device.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			configureColor(a.noColor || a.jsonMode)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), a)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetVersionTemplate(fmt.Sprintf("offchat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate))

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to config.toml (default $OFFCHAT_HOME/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	flags.BoolVar(&a.jsonMode, "json", false, "machine-readable output")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newChatCommand(a),
		newAskCommand(a),
		newTranscribeCommand(a),
		newServeCommand(a),
		newHistoryCommand(a),
		newModelsCommand(a),
		newStatsCommand(a),
		newConfigCommand(a),
		newVersionCommand(a),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	root := newRootCommand(a)
	root.SetArgs(args)
	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return ExitSuccess
	}

	name := "offchat"
	if cmd != nil {
		name = cmd.CommandPath()
	}
	if a.jsonMode {
		DisplayError(stdout, name, err, true)
	} else {
		DisplayError(stderr, name, err, false)
	}
	return GetExitCode(err)
}

// =============================================================================
// VERSION
// =============================================================================

// VersionInfo is printed by `offchat version`.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := currentVersion()
			if a.jsonMode {
				return OutputJSON(a.stdout, "version", info)
			}
			fmt.Fprintln(a.stdout, TitleStyle.Render("offchat "+info.Version))
			fmt.Fprintln(a.stdout, RenderField("Commit", info.GitCommit))
			fmt.Fprintln(a.stdout, RenderField("Built", info.BuildDate))
			fmt.Fprintln(a.stdout, RenderField("Go", info.GoVersion))
			fmt.Fprintln(a.stdout, RenderField("Platform", info.Platform))
			return nil
		},
	}
}

func currentVersion() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
