// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewMessage_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		msg := NewUserMessage("hi")
		if seen[msg.ID] {
			t.Fatalf("duplicate message ID %q", msg.ID)
		}
		seen[msg.ID] = true
	}
}

func TestNewPlaceholder(t *testing.T) {
	ph := NewPlaceholder()
	assert.Equal(t, RoleAssistant, ph.Role)
	assert.True(t, ph.Streaming)
	assert.Equal(t, KindPlaceholder, ph.Kind)
	assert.True(t, ph.IsActivePlaceholder())
	assert.Empty(t, ph.Content)
}

func TestMessage_WithContentClearsPlaceholderKind(t *testing.T) {
	ph := NewPlaceholder()
	updated := ph.WithContent("Thinking about it, the answer is 4")

	assert.Equal(t, ph.ID, updated.ID)
	assert.Equal(t, KindText, updated.Kind)
	assert.True(t, updated.Streaming, "content replacement must not end streaming")
	assert.Equal(t, KindPlaceholder, ph.Kind, "original value must be untouched")
}

func TestMessage_Completed(t *testing.T) {
	msg := NewPlaceholder().WithContent("done").Completed()
	assert.False(t, msg.Streaming)
	assert.False(t, msg.IsActivePlaceholder())
}

func TestMessage_Preview(t *testing.T) {
	tests := []struct {
		content string
		max     int
		want    string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a longer message here", 10, "a longe..."},
		{"日本語のテキストです", 6, "日本語..."},
	}
	for _, tc := range tests {
		got := NewUserMessage(tc.content).Preview(tc.max)
		if got != tc.want {
			t.Errorf("Preview(%q, %d) = %q, want %q", tc.content, tc.max, got, tc.want)
		}
	}
}

func TestMessage_CloneCopiesAttachments(t *testing.T) {
	msg := NewUserMessage("look", "file:///a.png")
	clone := msg.Clone()
	clone.Attachments[0] = "changed"
	assert.Equal(t, "file:///a.png", msg.Attachments[0])
}

func TestKind_JSON(t *testing.T) {
	data, err := json.Marshal(NewPlaceholder())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"placeholder"`)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, KindPlaceholder, back.Kind)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleUser, ParseRole("user"))
	assert.Equal(t, RoleAssistant, ParseRole("assistant"))
	assert.Equal(t, RoleSystem, ParseRole("tool"))
}

// =============================================================================
// SETTINGS TESTS
// =============================================================================

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, "qwen3-0.6", s.ModelID)
	assert.Equal(t, 512, s.MaxTokens)
	assert.Equal(t, 4096, s.ContextSize)
	assert.InDelta(t, 0.7, s.Temperature, 1e-9)
	assert.Equal(t, -1, s.GPULayers)
	assert.Equal(t, 4, s.CPUThreads)
	assert.False(t, s.ShowThinking)
	assert.Equal(t, "whisper-small", s.SpeechModelID)
	assert.NoError(t, s.Validate())
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		errSub string
	}{
		{"empty model", func(s *Settings) { s.ModelID = " " }, "model_id"},
		{"zero max tokens", func(s *Settings) { s.MaxTokens = 0 }, "max_tokens"},
		{"tiny context", func(s *Settings) { s.ContextSize = 128 }, "context_size"},
		{"hot temperature", func(s *Settings) { s.Temperature = 2.5 }, "temperature"},
		{"bad gpu layers", func(s *Settings) { s.GPULayers = -2 }, "gpu_layers"},
		{"no threads", func(s *Settings) { s.CPUThreads = 0 }, "cpu_threads"},
		{"no speech model", func(s *Settings) { s.SpeechModelID = "" }, "speech_model_id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			tc.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errSub)
		})
	}
}

func TestSettings_WithDefaults(t *testing.T) {
	s := Settings{Temperature: 0.2, ShowThinking: true}.WithDefaults()
	assert.Equal(t, DefaultModelID, s.ModelID)
	assert.Equal(t, DefaultMaxTokens, s.MaxTokens)
	assert.InDelta(t, 0.2, s.Temperature, 1e-9)
	assert.True(t, s.ShowThinking)
	assert.Equal(t, 0, s.GPULayers, "zero GPU layers means CPU only and must be preserved")
	assert.Equal(t, DefaultSystemPrompt, s.SystemPrompt)
}

func TestDiff(t *testing.T) {
	base := DefaultSettings()
	tests := []struct {
		name   string
		mutate func(*Settings)
		want   ReloadPlan
	}{
		{"no change", func(s *Settings) {}, ReloadPlan{}},
		{"temperature", func(s *Settings) { s.Temperature = 0.1 }, ReloadPlan{}},
		{"max tokens", func(s *Settings) { s.MaxTokens = 64 }, ReloadPlan{}},
		{"system prompt", func(s *Settings) { s.SystemPrompt = "be terse" }, ReloadPlan{}},
		{"show thinking", func(s *Settings) { s.ShowThinking = true }, ReloadPlan{}},
		{"model", func(s *Settings) { s.ModelID = "qwen3-1.7" }, ReloadPlan{Model: true}},
		{"context", func(s *Settings) { s.ContextSize = 8192 }, ReloadPlan{Model: true}},
		{"gpu", func(s *Settings) { s.GPULayers = 0 }, ReloadPlan{Model: true}},
		{"threads", func(s *Settings) { s.CPUThreads = 8 }, ReloadPlan{Model: true}},
		{"speech", func(s *Settings) { s.SpeechModelID = "whisper-tiny" }, ReloadPlan{Speech: true}},
		{"both", func(s *Settings) {
			s.ModelID = "gemma3-270m"
			s.SpeechModelID = "whisper-base"
		}, ReloadPlan{Model: true, Speech: true}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			updated := base
			tc.mutate(&updated)
			got := Diff(base, updated)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want.Model || tc.want.Speech, got.Any())
		})
	}
}

// =============================================================================
// CATALOG TESTS
// =============================================================================

func TestCatalog_SingleDefault(t *testing.T) {
	for name, list := range map[string][]ModelInfo{"models": Models, "speech": SpeechModels} {
		defaults := 0
		for _, m := range list {
			if m.Default {
				defaults++
			}
			if m.ID == "" || m.Artifact == "" || m.DisplayName == "" {
				t.Errorf("%s: incomplete entry %+v", name, m)
			}
		}
		if defaults != 1 {
			t.Errorf("%s: want exactly one default, got %d", name, defaults)
		}
	}
}

func TestCatalog_DefaultsAreListed(t *testing.T) {
	_, ok := LookupModel(DefaultModelID)
	assert.True(t, ok)
	_, ok = LookupSpeechModel(DefaultSpeechModelID)
	assert.True(t, ok)
}

func TestArtifacts(t *testing.T) {
	assert.Equal(t, "qwen3:0.6b", ModelArtifact("qwen3-0.6"))
	assert.Equal(t, "llama3.2:1b", ModelArtifact("llama3.2:1b"))
	assert.Equal(t, "ggml-small.bin", SpeechArtifact("whisper-small"))
	assert.Equal(t, "ggml-large-v3.bin", SpeechArtifact("whisper-large-v3"))
	assert.True(t, strings.HasPrefix(Models[0].Label(), "Qwen 3 0.6B - "))
}
