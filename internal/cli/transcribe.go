// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/offchat/internal/engine"
	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/voice"
)

// TranscribeResult is the --json payload of `offchat transcribe`.
type TranscribeResult struct {
	Source string `json:"source"`
	Model  string `json:"model"`
	Text   string `json:"text"`
}

func newTranscribeCommand(a *app) *cobra.Command {
	var (
		modelID  string
		mic      bool
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "transcribe [file.wav]",
		Short: "Transcribe a WAV file or the microphone",
		Long: `Transcribe loads the speech model and prints the recognized text of
a 16 kHz WAV file, or of a microphone recording with --mic. The model
defaults to the one in settings.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if mic == (len(args) == 1) {
				return &UsageError{Arg: "source", Reason: "give a file or --mic, not both", Example: "offchat transcribe note.wav"}
			}
			if !mic {
				if _, err := os.Stat(args[0]); err != nil {
					return &NotFoundError{Resource: "audio file", ID: args[0]}
				}
			}
			if err := a.load(false); err != nil {
				return err
			}
			if modelID == "" {
				file, err := a.settingsFile()
				if err != nil {
					return &ConfigError{Err: err}
				}
				settings, err := file.Load()
				if err != nil {
					return &ConfigError{Path: file.Path(), Err: err}
				}
				modelID = settings.WithDefaults().SpeechModelID
			}
			source := "microphone"
			if !mic {
				source = args[0]
			}
			return runTranscribe(cmd.Context(), a, modelID, source, duration)
		},
	}
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "speech model ID (see `offchat models`)")
	cmd.Flags().BoolVar(&mic, "mic", false, "record from the microphone instead of a file")
	cmd.Flags().DurationVar(&duration, "duration", voice.MaxDuration, "longest microphone recording")
	return cmd
}

func runTranscribe(ctx context.Context, a *app, modelID, source string, duration time.Duration) error {
	eng, err := a.newSpeech()
	if err != nil {
		return &ConfigError{Err: err}
	}
	ctrl := lifecycle.NewSpeechController(eng, a.log)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = ctrl.Cleanup(cctx)
	}()

	if !a.jsonMode {
		fmt.Fprintln(a.stderr, DimStyle.Render("Loading "+modelID+"..."))
	}
	if err := ctrl.Initialize(ctx, modelID); err != nil {
		return err
	}

	var text string
	if source == "microphone" {
		if !a.jsonMode {
			fmt.Fprintln(a.stderr, WarningStyle.Render("[*] Recording, Ctrl+C to stop early"))
		}
		text, err = ctrl.TranscribeFromMicrophone(ctx, engine.CaptureParams{
			SampleRate:  voice.SampleRate,
			MaxDuration: duration,
			MaxSilence:  duration,
		})
	} else {
		text, err = ctrl.TranscribeFile(ctx, source)
	}
	if err != nil {
		return err
	}

	if a.jsonMode {
		return OutputJSON(a.stdout, "transcribe", TranscribeResult{Source: source, Model: modelID, Text: text})
	}
	fmt.Fprintln(a.stdout, text)
	return nil
}
