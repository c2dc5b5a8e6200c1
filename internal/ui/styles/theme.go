// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/voice"
)

// Theme holds every style the chat view uses.
type Theme struct {
	IsDark bool

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style

	UserBubble      lipgloss.Style
	AssistantBubble lipgloss.Style
	SystemBubble    lipgloss.Style
	RoleLabel       lipgloss.Style
	Attachment      lipgloss.Style

	Thinking lipgloss.Style
	Spinner  lipgloss.Style

	InputContainer lipgloss.Style
	InputPrompt    lipgloss.Style

	StatusBar    lipgloss.Style
	StatusLabel  lipgloss.Style
	StatusValue  lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style

	Advisory lipgloss.Style
	Help     lipgloss.Style

	Ready   lipgloss.Style
	Busy    lipgloss.Style
	Error   lipgloss.Style
	Pending lipgloss.Style
}

// NewTheme creates a theme for the current terminal background.
func NewTheme() *Theme {
	t := &Theme{IsDark: lipgloss.HasDarkBackground()}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Foreground(Cyan).
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(Purple)

	t.UserBubble = lipgloss.NewStyle().
		Foreground(UserBubbleFg).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(UserBubbleBorder).
		Padding(0, 1).
		MarginLeft(4)
	t.AssistantBubble = lipgloss.NewStyle().
		Foreground(AssistantBubbleFg).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(AssistantBubbleBorder).
		Padding(0, 1).
		MarginRight(4)
	t.SystemBubble = lipgloss.NewStyle().
		Foreground(SystemBubbleFg).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(SystemBubbleBorder).
		Padding(0, 1)
	t.RoleLabel = lipgloss.NewStyle().Bold(true).Foreground(TextSecondary)
	t.Attachment = lipgloss.NewStyle().Italic(true).Foreground(TextMuted)

	t.Thinking = lipgloss.NewStyle().Italic(true).Foreground(TextMuted)
	t.Spinner = lipgloss.NewStyle().Foreground(Purple)

	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.InputPrompt = lipgloss.NewStyle().Bold(true).Foreground(Cyan)

	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim)
	t.StatusLabel = lipgloss.NewStyle().Foreground(TextMuted)
	t.StatusValue = lipgloss.NewStyle().Foreground(TextPrimary)
	t.ShortcutKey = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(TextMuted)

	t.Advisory = lipgloss.NewStyle().Bold(true).Foreground(Amber)
	t.Help = lipgloss.NewStyle().Foreground(TextSecondary).Padding(0, 2)

	t.Ready = lipgloss.NewStyle().Bold(true).Foreground(Emerald)
	t.Busy = lipgloss.NewStyle().Bold(true).Foreground(Amber)
	t.Error = lipgloss.NewStyle().Bold(true).Foreground(Rose)
	t.Pending = lipgloss.NewStyle().Foreground(TextMuted)
}

// =============================================================================
// STATUS HELPERS
// =============================================================================

// StatusStyle picks the style for an engine status.
func (t *Theme) StatusStyle(s lifecycle.Status) lipgloss.Style {
	switch {
	case s == lifecycle.StatusReady:
		return t.Ready
	case s == lifecycle.StatusError:
		return t.Error
	case s.Busy():
		return t.Busy
	}
	return t.Pending
}

// Indicator returns the ASCII shape for an engine status.
func Indicator(s lifecycle.Status) string {
	switch {
	case s == lifecycle.StatusReady:
		return StatusIndicators.Success
	case s == lifecycle.StatusError:
		return StatusIndicators.Error
	case s.Busy():
		return StatusIndicators.Active
	}
	return StatusIndicators.Pending
}

// RenderStatus renders "[OK] READY" style labels.
func (t *Theme) RenderStatus(s lifecycle.Status) string {
	return t.StatusStyle(s).Render(Indicator(s) + " " + s.String())
}

// VoiceStyle picks the style for the voice capture state.
func (t *Theme) VoiceStyle(s voice.State) lipgloss.Style {
	switch s {
	case voice.StateRecording:
		return t.Error
	case voice.StateProcessing:
		return t.Busy
	}
	return t.Pending
}
