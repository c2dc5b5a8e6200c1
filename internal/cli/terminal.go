// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsTTY reports whether stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Interactive reports whether both ends are terminals, which the full
// screen chat needs.
func Interactive() bool {
	return IsTTY() && IsStdoutTTY()
}

// =============================================================================
// COLOR
// =============================================================================

// ColorsEnabled reports whether styled output should be used: stdout is a
// terminal and NO_COLOR is unset. FORCE_COLOR overrides both.
func ColorsEnabled() bool {
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return IsStdoutTTY()
}

// configureColor sets the lipgloss profile for CLI output.
func configureColor(disabled bool) {
	if disabled || !ColorsEnabled() {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}
