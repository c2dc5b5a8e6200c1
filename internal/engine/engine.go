// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine defines the contracts for the language model and speech
// engines a session drives. Implementations live in internal/ollama and
// internal/whisper; test doubles live in internal/engine/enginetest.
package engine

import (
	"context"
	"time"
)

// =============================================================================
// LANGUAGE MODEL
// =============================================================================

// Turn is one message of generation context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LoadParams describes how a model is loaded. A change to any field means
// the model has to be reloaded.
type LoadParams struct {
	ModelID     string
	ContextSize int
	GPULayers   int // -1 auto, 0 CPU only
	CPUThreads  int
}

// SamplingParams apply per generation and never require a reload.
type SamplingParams struct {
	Temperature float64
	MaxTokens   int
}

// LanguageModel downloads, loads and runs a local text model.
type LanguageModel interface {
	// Download fetches the model if it is not already present. onProgress
	// receives completion fractions in [0, 1] and may be nil.
	Download(ctx context.Context, modelID string, onProgress func(fraction float64)) error

	// Initialize loads the model so Generate can run.
	Initialize(ctx context.Context, params LoadParams) error

	// Generate streams a completion for turns. onToken is called from a
	// single goroutine, once per fragment, in production order.
	Generate(ctx context.Context, turns []Turn, sampling SamplingParams, onToken func(fragment string)) error

	// Unload releases the loaded model.
	Unload(ctx context.Context) error
}

// =============================================================================
// SPEECH
// =============================================================================

// CaptureParams configures a microphone capture.
type CaptureParams struct {
	SampleRate  int
	MaxDuration time.Duration
	MaxSilence  time.Duration

	// OnCaptured, if set, is called once audio capture has ended and
	// decoding is about to start.
	OnCaptured func()
}

// Transcription is the outcome of a transcription request. Success false
// with a nil error means the engine ran but produced no usable text; Text
// may then carry the engine's reason.
type Transcription struct {
	Success bool
	Text    string
}

// Speech downloads, loads and runs a speech-to-text model.
type Speech interface {
	// Download fetches the model file.
	Download(ctx context.Context, modelID string) error

	// IsDownloaded reports whether the model file is present.
	IsDownloaded(modelID string) bool

	// Initialize loads the model.
	Initialize(ctx context.Context, modelID string) error

	// TranscribeFromMicrophone records until Stop, MaxDuration or ctx ends,
	// then transcribes what was captured.
	TranscribeFromMicrophone(ctx context.Context, params CaptureParams) (Transcription, error)

	// TranscribeFile transcribes an audio file.
	TranscribeFile(ctx context.Context, path string) (Transcription, error)

	// Stop ends an in-progress capture. Transcription of the captured audio
	// still happens. Safe to call when nothing is recording.
	Stop()

	// Unload releases the loaded model.
	Unload(ctx context.Context) error
}
