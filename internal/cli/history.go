// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/offchat/internal/storage"
)

// =============================================================================
// HISTORY COMMANDS
// =============================================================================

func newHistoryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "Browse conversations archived when the chat was cleared",
	}
	cmd.AddCommand(
		newHistoryListCommand(a),
		newHistoryShowCommand(a),
		newHistorySearchCommand(a),
		newHistoryDeleteCommand(a),
	)
	return cmd
}

// withArchive loads configuration, opens the history database and runs fn.
func withArchive(a *app, fn func(*storage.Archive) error) error {
	if err := a.load(false); err != nil {
		return err
	}
	archive, err := a.openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()
	return fn(archive)
}

func newHistoryListCommand(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List archived conversations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withArchive(a, func(archive *storage.Archive) error {
				metas, err := archive.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if a.jsonMode {
					return OutputJSON(a.stdout, "history list", metas)
				}
				fmt.Fprint(a.stdout, ensureNewline(storage.FormatList(metas)))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "most conversations to show (0 = all)")
	return cmd
}

func newHistorySearchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "Find conversations whose title or messages contain text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withArchive(a, func(archive *storage.Archive) error {
				metas, err := archive.Search(cmd.Context(), query)
				if err != nil {
					return err
				}
				if a.jsonMode {
					return OutputJSON(a.stdout, "history search", metas)
				}
				fmt.Fprint(a.stdout, ensureNewline(storage.FormatList(metas)))
				return nil
			})
		},
	}
}

func newHistoryShowCommand(a *app) *cobra.Command {
	var (
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:     "show <id>",
		Aliases: []string{"export"},
		Short:   "Print or export one conversation",
		Long: `Show prints an archived conversation as Markdown or JSON. The ID may be
shortened to any unique prefix, as printed by 'history list'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.jsonMode {
				format = "json"
			}
			if format != "markdown" && format != "md" && format != "json" {
				return &UsageError{Arg: "format", Reason: fmt.Sprintf("%q is not markdown or json", format)}
			}
			return withArchive(a, func(archive *storage.Archive) error {
				conv, err := archive.Get(cmd.Context(), args[0])
				if errors.Is(err, storage.ErrConversationNotFound) {
					return &NotFoundError{Resource: "conversation", ID: args[0]}
				}
				if err != nil {
					return err
				}

				var body []byte
				if format == "json" {
					if a.jsonMode && output == "" {
						return OutputJSON(a.stdout, "history show", conv)
					}
					if body, err = conv.ExportJSON(); err != nil {
						return err
					}
				} else {
					body = []byte(conv.ExportMarkdown())
				}

				if output == "" {
					_, err = a.stdout.Write(ensureNewlineBytes(body))
					return err
				}
				if err := os.WriteFile(output, body, 0o600); err != nil {
					return err
				}
				fmt.Fprintln(a.stderr, SuccessStyle.Render("[OK]")+" Exported to "+output)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "markdown or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

func newHistoryDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an archived conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(a, func(archive *storage.Archive) error {
				err := archive.Delete(cmd.Context(), args[0])
				if errors.Is(err, storage.ErrConversationNotFound) {
					return &NotFoundError{Resource: "conversation", ID: args[0]}
				}
				if err != nil {
					return err
				}
				if a.jsonMode {
					return OutputJSON(a.stdout, "history delete", map[string]string{"deleted": args[0]})
				}
				fmt.Fprintln(a.stdout, SuccessStyle.Render("[OK]")+" Deleted "+args[0])
				return nil
			})
		},
	}
}

func ensureNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

func ensureNewlineBytes(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\n' {
		return b
	}
	return append(b, '\n')
}
