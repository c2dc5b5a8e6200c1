// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/offchat/internal/model"
)

// ModelEntry is one catalog row of `offchat models`.
type ModelEntry struct {
	model.ModelInfo
	Kind string `json:"kind"` // "language" or "speech"

	// Installed is set only with --check.
	Installed *bool `json:"installed,omitempty"`
}

func newModelsCommand(a *app) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the language and speech models offered in settings",
		Long: `Models lists the catalog. With --check it also asks Ollama which language
models are pulled and looks for downloaded whisper files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries := catalogEntries()
			if check {
				if err := a.load(false); err != nil {
					return err
				}
				if err := markInstalled(cmd.Context(), a, entries); err != nil {
					return err
				}
			}
			if a.jsonMode {
				return OutputJSON(a.stdout, "models", entries)
			}
			printModels(a, entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "show which models are installed")
	return cmd
}

func catalogEntries() []ModelEntry {
	entries := make([]ModelEntry, 0, len(model.Models)+len(model.SpeechModels))
	for _, m := range model.Models {
		entries = append(entries, ModelEntry{ModelInfo: m, Kind: "language"})
	}
	for _, m := range model.SpeechModels {
		entries = append(entries, ModelEntry{ModelInfo: m, Kind: "speech"})
	}
	return entries
}

// markInstalled fills Installed. Ollama being unreachable is an error; it
// is started on demand only by the chat commands.
func markInstalled(ctx context.Context, a *app, entries []ModelEntry) error {
	lm := a.newLanguageModel()
	pulled, err := lm.Installed(ctx)
	if err != nil {
		return fmt.Errorf("query ollama: %w", err)
	}
	tags := make(map[string]bool, len(pulled))
	for _, p := range pulled {
		tags[p.Name] = true
		tags[strings.TrimSuffix(p.Name, ":latest")] = true
	}

	speech, err := a.newSpeech()
	if err != nil {
		return &ConfigError{Err: err}
	}
	for i := range entries {
		var ok bool
		if entries[i].Kind == "language" {
			ok = tags[entries[i].Artifact]
		} else {
			ok = speech.IsDownloaded(entries[i].ID)
		}
		entries[i].Installed = &ok
	}
	return nil
}

func printModels(a *app, entries []ModelEntry) {
	kind := ""
	for _, e := range entries {
		if e.Kind != kind {
			kind = e.Kind
			title := "Language models"
			if kind == "speech" {
				title = "Speech models"
			}
			fmt.Fprintln(a.stdout, SectionStyle.Render(title))
		}
		mark := "  "
		if e.Default {
			mark = SuccessStyle.Render("* ")
		}
		line := fmt.Sprintf("%s%-16s %-22s %s", mark, e.ID, e.DisplayName, DimStyle.Render(e.Description))
		if e.Installed != nil {
			if *e.Installed {
				line += "  " + SuccessStyle.Render("[OK]")
			} else {
				line += "  " + DimStyle.Render("[ ]")
			}
		}
		fmt.Fprintln(a.stdout, line)
	}
	fmt.Fprintln(a.stdout, DimStyle.Render("\n* default. Other Ollama tags may be used as model IDs."))
}
