// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/offchat/internal/ui/styles"
)

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Cyan)

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			MarginTop(1)

	// LabelStyle pads field labels to a fixed column.
	LabelStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Width(18)

	ValueStyle = lipgloss.NewStyle()

	SuccessStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	DimStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)

	// ReplyStyle is used for streamed assistant text in the line chat.
	ReplyStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan)
)

// RenderField renders "label value" on one line.
func RenderField(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

// RenderSeparator renders a rule of width dashes.
func RenderSeparator(width int) string {
	if width <= 0 {
		width = 60
	}
	return DimStyle.Render(strings.Repeat("-", width))
}
