// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package enginetest provides scripted engine doubles for tests.
package enginetest

import (
	"context"
	"strings"
	"sync"

	"github.com/jeranaias/offchat/internal/engine"
)

// =============================================================================
// LANGUAGE MODEL
// =============================================================================

// LanguageModel is a scripted engine.LanguageModel. Configure the exported
// fields before use; they are read under the fake's lock.
type LanguageModel struct {
	mu sync.Mutex

	// Tokens are streamed by Generate.
	Tokens []string

	// FailAfter, when GenerateErr is set, is how many tokens are streamed
	// before the error is returned.
	FailAfter int

	DownloadErr error
	InitErr     error
	GenerateErr error
	UnloadErr   error

	// Progress fractions reported by Download.
	Progress []float64

	// InitGate, if set, blocks Initialize until it is closed.
	InitGate chan struct{}

	// DownloadGate, if set, blocks Download until it is closed.
	DownloadGate chan struct{}

	// TokenGate, if set, must receive a value before each token is emitted.
	TokenGate chan struct{}

	calls        []string
	lastTurns    []engine.Turn
	lastSampling engine.SamplingParams
	lastLoad     engine.LoadParams
}

var _ engine.LanguageModel = (*LanguageModel)(nil)

// Download implements engine.LanguageModel.
func (f *LanguageModel) Download(ctx context.Context, modelID string, onProgress func(float64)) error {
	f.mu.Lock()
	f.calls = append(f.calls, "download:"+modelID)
	progress := append([]float64(nil), f.Progress...)
	err := f.DownloadErr
	gate := f.DownloadGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if onProgress != nil {
		for _, p := range progress {
			onProgress(p)
		}
	}
	return err
}

// Initialize implements engine.LanguageModel.
func (f *LanguageModel) Initialize(ctx context.Context, params engine.LoadParams) error {
	f.mu.Lock()
	f.calls = append(f.calls, "initialize:"+params.ModelID)
	f.lastLoad = params
	gate := f.InitGate
	err := f.InitErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Generate implements engine.LanguageModel.
func (f *LanguageModel) Generate(ctx context.Context, turns []engine.Turn, sampling engine.SamplingParams, onToken func(string)) error {
	f.mu.Lock()
	f.calls = append(f.calls, "generate")
	f.lastTurns = append([]engine.Turn(nil), turns...)
	f.lastSampling = sampling
	tokens := append([]string(nil), f.Tokens...)
	genErr := f.GenerateErr
	failAfter := f.FailAfter
	gate := f.TokenGate
	f.mu.Unlock()

	for i, tok := range tokens {
		if genErr != nil && i >= failAfter {
			return genErr
		}
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		onToken(tok)
	}
	return genErr
}

// Unload implements engine.LanguageModel.
func (f *LanguageModel) Unload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "unload")
	return f.UnloadErr
}

// Set updates the script under the fake's lock.
func (f *LanguageModel) Set(fn func(f *LanguageModel)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// Calls returns the recorded calls in order.
func (f *LanguageModel) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts recorded calls whose name starts with op.
func (f *LanguageModel) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, op) {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (f *LanguageModel) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// LastTurns returns the context passed to the most recent Generate.
func (f *LanguageModel) LastTurns() []engine.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Turn(nil), f.lastTurns...)
}

// LastSampling returns the sampling params of the most recent Generate.
func (f *LanguageModel) LastSampling() engine.SamplingParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSampling
}

// LastLoad returns the params of the most recent Initialize.
func (f *LanguageModel) LastLoad() engine.LoadParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastLoad
}

// =============================================================================
// SPEECH
// =============================================================================

// Speech is a scripted engine.Speech. A capture blocks until Stop is called,
// unless AutoFinish is set, in which case it returns at once as if the
// maximum duration had elapsed.
type Speech struct {
	mu sync.Mutex

	Result      engine.Transcription
	CaptureErr  error
	DownloadErr error
	InitErr     error
	AutoFinish  bool
	Downloaded  map[string]bool

	// InitGate, if set, blocks Initialize until it is closed.
	InitGate chan struct{}

	// Started receives a value each time a capture begins.
	Started chan struct{}

	stop  chan struct{}
	calls []string
	last  engine.CaptureParams
}

var _ engine.Speech = (*Speech)(nil)

// NewSpeech creates a fake that transcribes to text.
func NewSpeech(text string) *Speech {
	return &Speech{
		Result:     engine.Transcription{Success: true, Text: text},
		Downloaded: make(map[string]bool),
		Started:    make(chan struct{}, 16),
	}
}

// Download implements engine.Speech.
func (f *Speech) Download(ctx context.Context, modelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "download:"+modelID)
	if f.DownloadErr != nil {
		return f.DownloadErr
	}
	if f.Downloaded == nil {
		f.Downloaded = make(map[string]bool)
	}
	f.Downloaded[modelID] = true
	return nil
}

// IsDownloaded implements engine.Speech.
func (f *Speech) IsDownloaded(modelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Downloaded[modelID]
}

// Initialize implements engine.Speech.
func (f *Speech) Initialize(ctx context.Context, modelID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, "initialize:"+modelID)
	gate := f.InitGate
	err := f.InitErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// TranscribeFromMicrophone implements engine.Speech.
func (f *Speech) TranscribeFromMicrophone(ctx context.Context, params engine.CaptureParams) (engine.Transcription, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "capture")
	f.last = params
	stop := make(chan struct{})
	f.stop = stop
	auto := f.AutoFinish
	started := f.Started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	if !auto {
		select {
		case <-stop:
		case <-ctx.Done():
			return engine.Transcription{}, ctx.Err()
		}
	}
	if params.OnCaptured != nil {
		params.OnCaptured()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stop = nil
	return f.Result, f.CaptureErr
}

// TranscribeFile implements engine.Speech.
func (f *Speech) TranscribeFile(ctx context.Context, path string) (engine.Transcription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "file:"+path)
	return f.Result, f.CaptureErr
}

// Stop implements engine.Speech.
func (f *Speech) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop")
	if f.stop != nil {
		close(f.stop)
		f.stop = nil
	}
}

// Unload implements engine.Speech.
func (f *Speech) Unload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "unload")
	return nil
}

// Set updates the script under the fake's lock.
func (f *Speech) Set(fn func(f *Speech)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// Calls returns the recorded calls in order.
func (f *Speech) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// LastCapture returns the params of the most recent capture.
func (f *Speech) LastCapture() engine.CaptureParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
