// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// MODEL CATALOG
// =============================================================================

// ModelInfo describes a selectable model.
type ModelInfo struct {
	// ID is the identifier stored in Settings.
	ID string `json:"id"`

	// DisplayName is the human-readable name.
	DisplayName string `json:"display_name"`

	// Description is a short size/speed hint.
	Description string `json:"description"`

	// Artifact is what the engine actually fetches: an Ollama tag for
	// language models, a ggml file name for speech models.
	Artifact string `json:"artifact"`

	// Default marks the catalog's recommended entry.
	Default bool `json:"default"`
}

// Label formats the entry for pickers.
func (m ModelInfo) Label() string {
	return fmt.Sprintf("%s - %s", m.DisplayName, m.Description)
}

// Models lists the language models offered in settings.
var Models = []ModelInfo{
	{ID: "qwen3-0.6", DisplayName: "Qwen 3 0.6B", Description: "Fast, 400MB", Artifact: "qwen3:0.6b", Default: true},
	{ID: "gemma3-270m", DisplayName: "Gemma 3 270M", Description: "Faster, 150MB", Artifact: "gemma3:270m"},
	{ID: "qwen3-1.7", DisplayName: "Qwen 3 1.7B", Description: "Better quality, 1GB", Artifact: "qwen3:1.7b"},
}

// SpeechModels lists the transcription models offered in settings.
var SpeechModels = []ModelInfo{
	{ID: "whisper-tiny", DisplayName: "Tiny", Description: "Fast, ~40MB", Artifact: "ggml-tiny.bin"},
	{ID: "whisper-base", DisplayName: "Base", Description: "Balanced, ~75MB", Artifact: "ggml-base.bin"},
	{ID: "whisper-small", DisplayName: "Small", Description: "Better, ~250MB", Artifact: "ggml-small.bin", Default: true},
	{ID: "whisper-medium", DisplayName: "Medium", Description: "Best, ~770MB", Artifact: "ggml-medium.bin"},
}

// LookupModel finds a language model by ID.
func LookupModel(id string) (ModelInfo, bool) {
	return lookup(Models, id)
}

// LookupSpeechModel finds a speech model by ID.
func LookupSpeechModel(id string) (ModelInfo, bool) {
	return lookup(SpeechModels, id)
}

// ModelArtifact resolves a language model ID to the tag the engine pulls.
// IDs outside the catalog are passed through so any installed tag works.
func ModelArtifact(id string) string {
	if info, ok := LookupModel(id); ok {
		return info.Artifact
	}
	return id
}

// SpeechArtifact resolves a speech model ID to its file name.
func SpeechArtifact(id string) string {
	if info, ok := LookupSpeechModel(id); ok {
		return info.Artifact
	}
	return "ggml-" + strings.TrimPrefix(id, "whisper-") + ".bin"
}

func lookup(list []ModelInfo, id string) (ModelInfo, bool) {
	for _, m := range list {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
