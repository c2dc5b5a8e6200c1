// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSystemPrompt is the persona used when no custom prompt is set.
const DefaultSystemPrompt = `You are offchat, a helpful AI assistant running entirely on this device.
Be concise and direct. Give brief answers (1-2 sentences) unless asked to elaborate.
IMPORTANT: Use only plain text in your responses. Do not use markdown formatting like **, *, #, or any special characters for formatting. Write in simple, clean text only.`

// Default settings values.
const (
	DefaultModelID       = "qwen3-0.6"
	DefaultSpeechModelID = "whisper-small"
	DefaultMaxTokens     = 512
	DefaultContextSize   = 4096
	DefaultTemperature   = 0.7
	DefaultGPULayers     = -1
	DefaultCPUThreads    = 4

	// MinContextSize is the smallest context window accepted.
	MinContextSize = 512
)

// Settings holds everything that shapes generation and engine loading.
// It is a value type: changing settings means building a new value.
type Settings struct {
	ModelID       string  `toml:"model_id" json:"model_id"`
	MaxTokens     int     `toml:"max_tokens" json:"max_tokens"`
	ContextSize   int     `toml:"context_size" json:"context_size"`
	Temperature   float64 `toml:"temperature" json:"temperature"`
	GPULayers     int     `toml:"gpu_layers" json:"gpu_layers"` // -1 auto, 0 CPU only
	CPUThreads    int     `toml:"cpu_threads" json:"cpu_threads"`
	ShowThinking  bool    `toml:"show_thinking" json:"show_thinking"`
	SystemPrompt  string  `toml:"system_prompt" json:"system_prompt"`
	SpeechModelID string  `toml:"speech_model_id" json:"speech_model_id"`
}

// DefaultSettings returns the factory settings.
func DefaultSettings() Settings {
	return Settings{
		ModelID:       DefaultModelID,
		MaxTokens:     DefaultMaxTokens,
		ContextSize:   DefaultContextSize,
		Temperature:   DefaultTemperature,
		GPULayers:     DefaultGPULayers,
		CPUThreads:    DefaultCPUThreads,
		ShowThinking:  false,
		SystemPrompt:  DefaultSystemPrompt,
		SpeechModelID: DefaultSpeechModelID,
	}
}

// WithDefaults fills zero-valued fields from DefaultSettings. Booleans and
// GPULayers are left alone since their zero values are meaningful.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.ModelID == "" {
		s.ModelID = d.ModelID
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = d.MaxTokens
	}
	if s.ContextSize == 0 {
		s.ContextSize = d.ContextSize
	}
	if s.CPUThreads == 0 {
		s.CPUThreads = d.CPUThreads
	}
	if strings.TrimSpace(s.SystemPrompt) == "" {
		s.SystemPrompt = d.SystemPrompt
	}
	if s.SpeechModelID == "" {
		s.SpeechModelID = d.SpeechModelID
	}
	return s
}

// Validate checks settings ranges and returns every problem found.
func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.ModelID) == "" {
		errs = append(errs, errors.New("model_id must not be empty"))
	}
	if s.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("max_tokens must be positive, got %d", s.MaxTokens))
	}
	if s.ContextSize < MinContextSize {
		errs = append(errs, fmt.Errorf("context_size must be at least %d, got %d", MinContextSize, s.ContextSize))
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be between 0 and 2, got %.2f", s.Temperature))
	}
	if s.GPULayers < -1 {
		errs = append(errs, fmt.Errorf("gpu_layers must be -1 (auto) or more, got %d", s.GPULayers))
	}
	if s.CPUThreads < 1 {
		errs = append(errs, fmt.Errorf("cpu_threads must be at least 1, got %d", s.CPUThreads))
	}
	if strings.TrimSpace(s.SpeechModelID) == "" {
		errs = append(errs, errors.New("speech_model_id must not be empty"))
	}
	return errors.Join(errs...)
}

// =============================================================================
// RELOAD PLANNING
// =============================================================================

// ReloadPlan says which engines must be reloaded after a settings change.
type ReloadPlan struct {
	Model  bool
	Speech bool
}

// Any reports whether any reload is needed.
func (p ReloadPlan) Any() bool {
	return p.Model || p.Speech
}

// Diff compares two settings values. Only fields that shape how a model is
// loaded force a reload; sampling and prompt fields apply on the next turn.
func Diff(old, updated Settings) ReloadPlan {
	return ReloadPlan{
		Model: old.ModelID != updated.ModelID ||
			old.ContextSize != updated.ContextSize ||
			old.GPULayers != updated.GPULayers ||
			old.CPUThreads != updated.CPUThreads,
		Speech: old.SpeechModelID != updated.SpeechModelID,
	}
}
