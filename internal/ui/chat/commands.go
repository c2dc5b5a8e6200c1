// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/offchat/internal/model"
)

// =============================================================================
// SLASH COMMANDS
// =============================================================================

type commandInfo struct {
	usage string
	desc  string
}

var commandList = []commandInfo{
	{"/help", "show keys and commands"},
	{"/clear", "clear the conversation"},
	{"/voice", "start or stop voice input"},
	{"/attach <path>", "attach a file to the next message"},
	{"/detach", "drop staged attachments"},
	{"/copy", "copy the last reply"},
	{"/stats", "show usage for this session"},
	{"/settings", "show current settings"},
	{"/set <key> <value>", "change a setting (" + strings.Join(settingKeys, ", ") + ")"},
	{"/reset", "restore default settings"},
	{"/quit", "exit"},
}

var settingKeys = []string{
	"model", "speech_model", "temperature", "max_tokens", "context_size",
	"gpu_layers", "cpu_threads", "show_thinking", "system",
}

func (m Model) runCommand(line string) (tea.Model, tea.Cmd) {
	name, args, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	args = strings.TrimSpace(args)
	m.notice = ""

	switch strings.ToLower(name) {
	case "help", "?":
		m.showHelp = !m.showHelp

	case "clear":
		m.backend.ClearMessages()

	case "voice", "talk":
		m.backend.PressVoice()

	case "attach":
		if args == "" {
			m.notice = "Usage: /attach <path>"
			break
		}
		if _, err := os.Stat(args); err != nil {
			m.notice = "Cannot attach: " + err.Error()
			break
		}
		m.attachments = append(m.attachments, args)

	case "detach":
		m.attachments = nil

	case "copy":
		m.notice = m.copyLastReply()

	case "stats":
		u := m.backend.Usage()
		m.notice = fmt.Sprintf("Replies %d (failed %d) | avg %s | fragments %d | voice %d (failed %d)",
			u.Generations, u.FailedGenerations, formatDuration(u.AverageDuration()),
			u.Fragments, u.Transcriptions, u.FailedTranscriptions)

	case "settings":
		m.notice = describeSettings(m.backend.Settings())

	case "set":
		key, value, _ := strings.Cut(args, " ")
		next, err := applySetting(m.backend.Settings(), key, strings.TrimSpace(value))
		if err != nil {
			m.notice = err.Error()
			break
		}
		if err := m.backend.UpdateSettings(next); err == nil {
			m.notice = "Updated " + key
		}

	case "reset":
		if err := m.backend.ResetSettings(); err == nil {
			m.notice = "Settings restored to defaults"
		}

	case "quit", "exit", "q":
		m.quitting = true
		return m, tea.Quit

	default:
		m.notice = fmt.Sprintf("Unknown command: /%s (try /help)", name)
	}
	return m, nil
}

func (m Model) copyLastReply() string {
	for i := len(m.snapshot.Messages) - 1; i >= 0; i-- {
		msg := m.snapshot.Messages[i]
		if msg.Role != model.RoleAssistant || msg.Streaming || msg.Content == "" {
			continue
		}
		if err := m.copyText(msg.Content); err != nil {
			return "Clipboard unavailable: " + err.Error()
		}
		return "Copied last reply"
	}
	return "Nothing to copy yet"
}

// applySetting returns s with one field changed. Validation of the result
// is left to the session.
func applySetting(s model.Settings, key, value string) (model.Settings, error) {
	if key == "" || (value == "" && key != "system") {
		return s, fmt.Errorf("Usage: /set <key> <value> (keys: %s)", strings.Join(settingKeys, ", "))
	}

	var err error
	switch key {
	case "model":
		s.ModelID = value
	case "speech_model":
		s.SpeechModelID = value
	case "temperature":
		s.Temperature, err = strconv.ParseFloat(value, 64)
	case "max_tokens":
		s.MaxTokens, err = strconv.Atoi(value)
	case "context_size":
		s.ContextSize, err = strconv.Atoi(value)
	case "gpu_layers":
		s.GPULayers, err = strconv.Atoi(value)
	case "cpu_threads":
		s.CPUThreads, err = strconv.Atoi(value)
	case "show_thinking":
		s.ShowThinking, err = strconv.ParseBool(value)
	case "system":
		s.SystemPrompt = value
	default:
		return s, fmt.Errorf("Unknown setting %q (keys: %s)", key, strings.Join(settingKeys, ", "))
	}
	if err != nil {
		return s, fmt.Errorf("Bad value for %s: %q", key, value)
	}
	return s, nil
}

func describeSettings(s model.Settings) string {
	return fmt.Sprintf("model=%s speech=%s temperature=%.2f max_tokens=%d context=%d gpu_layers=%d threads=%d thinking=%t",
		s.ModelID, s.SpeechModelID, s.Temperature, s.MaxTokens, s.ContextSize, s.GPULayers, s.CPUThreads, s.ShowThinking)
}
