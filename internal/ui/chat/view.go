// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/util"
	"github.com/jeranaias/offchat/internal/voice"
)

// =============================================================================
// SCREEN
// =============================================================================

func (m Model) render() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	body := m.viewport.View()
	if m.showHelp {
		body = lipgloss.NewStyle().
			Height(m.viewport.Height).
			MaxHeight(m.viewport.Height).
			Render(m.renderHelp())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.renderNotice(),
		m.renderInput(),
		m.renderStatusBar(),
	)
}

func (m Model) renderHeader() string {
	info := m.backend.ModelInfo()
	modelID := info.ModelID
	if modelID == "" {
		modelID = m.backend.Settings().ModelID
	}

	parts := []string{
		m.theme.HeaderTitle.Render("offchat"),
		"LM " + modelID + " " + m.theme.RenderStatus(m.modelStatus.Status),
		"Voice " + m.backend.SpeechModelID() + " " + m.theme.RenderStatus(m.speechStatus.Status),
	}
	if m.modelStatus.Status.Busy() && m.modelStatus.Message != "" {
		parts = append(parts, m.theme.Pending.Render(m.modelStatus.Message))
	} else if m.speechStatus.Status.Busy() && m.speechStatus.Message != "" {
		parts = append(parts, m.theme.Pending.Render(m.speechStatus.Message))
	}
	line := strings.Join(parts, "  ")
	return m.theme.Header.Width(m.width).MaxHeight(1).Render(line)
}

// renderNotice shows the local notice, else the session advisory. Always
// one row so the layout does not jump.
func (m Model) renderNotice() string {
	text := m.notice
	style := m.theme.StatusValue
	if text == "" && m.advisory != "" {
		text = "[!] " + m.advisory + "  (Esc to dismiss)"
		style = m.theme.Advisory
	}
	if len(m.attachments) > 0 && text == "" {
		names := make([]string, len(m.attachments))
		for i, a := range m.attachments {
			names[i] = filepath.Base(a)
		}
		text = "Attached: " + strings.Join(names, ", ")
		style = m.theme.Attachment
	}
	return style.Render(util.TruncateWidth(util.OneLine(text), max(m.width, 1)))
}

func (m Model) renderInput() string {
	var line string
	switch m.voice {
	case voice.StateRecording:
		line = m.theme.Error.Render("[*] Recording... press Ctrl+T to stop")
	case voice.StateProcessing:
		line = m.theme.Busy.Render(m.spinner.View() + " Transcribing...")
	default:
		line = m.input.View()
	}
	return m.theme.InputContainer.Width(max(m.width-2, 10)).Render(line)
}

func (m Model) renderStatusBar() string {
	voiceLabel := m.theme.VoiceStyle(m.voice).Render(m.voice.String())
	if !m.speechReady && m.voice == voice.StateIdle {
		voiceLabel = m.theme.Pending.Render("VOICE OFF")
	}

	u := m.backend.Usage()
	segments := []string{fmt.Sprintf("%d replies", u.Generations)}
	if u.Generations > 0 {
		segments = append(segments, "avg "+formatDuration(u.AverageDuration()))
	}
	if u.Transcriptions > 0 {
		segments = append(segments, fmt.Sprintf("%d voice", u.Transcriptions))
	}
	segments = append(segments, plainHelp(m.keys.ShortHelp()))

	room := m.width - lipgloss.Width(voiceLabel) - 3
	rest := util.TruncateWidth(strings.Join(segments, " | "), max(room, 0))
	return m.theme.StatusBar.Width(max(m.width, 1)).MaxHeight(1).Render(" " + voiceLabel + " " + rest)
}

func (m Model) renderHelp() string {
	var b strings.Builder
	b.WriteString(m.theme.HeaderTitle.Render("Keys"))
	b.WriteString("\n")
	b.WriteString(m.help.FullHelpView(m.keys.FullHelp()))
	b.WriteString("\n\n")
	b.WriteString(m.theme.HeaderTitle.Render("Commands"))
	b.WriteString("\n")
	for _, c := range commandList {
		b.WriteString(m.theme.ShortcutKey.Render(fmt.Sprintf("  %-22s", c.usage)))
		b.WriteString(m.theme.ShortcutDesc.Render(c.desc))
		b.WriteString("\n")
	}
	return m.theme.Help.Render(b.String())
}

// =============================================================================
// MESSAGES
// =============================================================================

func (m Model) renderMessages() string {
	if len(m.snapshot.Messages) == 0 {
		return m.theme.Thinking.Render("\n  Say hello, or press Ctrl+T to talk.")
	}
	parts := make([]string, 0, len(m.snapshot.Messages))
	for _, msg := range m.snapshot.Messages {
		parts = append(parts, m.renderMessage(msg))
	}
	return strings.Join(parts, "\n")
}

func (m Model) renderMessage(msg model.Message) string {
	width := max(m.width-8, 20)

	switch msg.Role {
	case model.RoleUser:
		content := msg.Content
		if len(msg.Attachments) > 0 {
			names := make([]string, len(msg.Attachments))
			for i, a := range msg.Attachments {
				names[i] = "[file] " + filepath.Base(a)
			}
			att := m.theme.Attachment.Render(strings.Join(names, "  "))
			if content == "" {
				content = att
			} else {
				content += "\n" + att
			}
		}
		return m.label(msg) + "\n" + m.theme.UserBubble.Width(width).Render(content)

	case model.RoleSystem:
		return m.theme.SystemBubble.Width(width).Render(msg.Content)
	}

	content := msg.Content
	switch {
	case msg.IsActivePlaceholder() && msg.Content == "":
		content = m.theme.Thinking.Render(m.spinner.View() + " Thinking...")
	case msg.Streaming:
		content += m.theme.Thinking.Render(" _")
	}
	return m.label(msg) + "\n" + m.theme.AssistantBubble.Width(width).Render(content)
}

func (m Model) label(msg model.Message) string {
	return m.theme.RoleLabel.Render(msg.Role.DisplayName()) + " " +
		m.theme.Pending.Render(formatTimestamp(msg.CreatedAt))
}

// =============================================================================
// FORMATTING
// =============================================================================

// formatTimestamp shows the time for today, else the date too.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("Jan 2 15:04")
}

// plainHelp renders bindings without styling so the status bar can be
// truncated by width.
func plainHelp(bindings []key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, "  ")
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
