// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/offchat/internal/lifecycle"
)

// maxPromptBytes bounds a prompt read from stdin.
const maxPromptBytes = 1 << 20

// AskResult is the --json payload of `offchat ask`.
type AskResult struct {
	Prompt     string `json:"prompt"`
	Reply      string `json:"reply"`
	Model      string `json:"model"`
	DurationMS int64  `json:"duration_ms"`
}

func newAskCommand(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Ask one question and print the reply",
		Long: `Ask loads the configured model, sends a single prompt outside any
conversation and prints the filtered reply. With no arguments, or "-",
the prompt is read from stdin.`,
		Example: `  offchat ask "What is the capital of France?"
  git diff | offchat ask -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, a.input())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return runAsk(ctx, a, prompt)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long, including model load (0 = no limit)")
	return cmd
}

func runAsk(ctx context.Context, a *app, prompt string) error {
	if err := a.load(false); err != nil {
		return err
	}
	rt, err := a.startSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.stop(); err != nil {
			a.log.Warn().Err(err).Msg("shutdown")
		}
	}()

	if err := rt.sess.WaitReady(ctx); err != nil {
		return fmt.Errorf("%w: %v", lifecycle.ErrEngineNotReady, err)
	}
	start := time.Now()
	reply, err := rt.sess.Ask(ctx, prompt)
	if err != nil {
		return err
	}

	if a.jsonMode {
		return OutputJSON(a.stdout, "ask", AskResult{
			Prompt:     prompt,
			Reply:      reply,
			Model:      rt.sess.ModelInfo().ModelID,
			DurationMS: time.Since(start).Milliseconds(),
		})
	}
	fmt.Fprintln(a.stdout, reply)
	return nil
}

// readPrompt joins args, or reads r when args are empty or "-".
func readPrompt(args []string, r io.Reader) (string, error) {
	var prompt string
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		b, err := io.ReadAll(io.LimitReader(r, maxPromptBytes+1))
		if err != nil {
			return "", err
		}
		if len(b) > maxPromptBytes {
			return "", &UsageError{Arg: "prompt", Reason: "stdin exceeds 1 MiB"}
		}
		prompt = string(b)
	} else {
		prompt = strings.Join(args, " ")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", &UsageError{Arg: "prompt", Reason: "empty", Example: `offchat ask "hello"`}
	}
	return prompt, nil
}
