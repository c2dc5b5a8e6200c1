// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/offchat/internal/engine"
	"github.com/jeranaias/offchat/internal/model"
)

// =============================================================================
// ENGINE
// =============================================================================

// EngineConfig configures an Engine.
type EngineConfig struct {
	// KeepAlive is how long Ollama keeps the model resident between
	// requests (default: "30m").
	KeepAlive string
}

// Engine implements engine.LanguageModel on top of a local Ollama server.
// Model IDs from the catalog are resolved to Ollama tags; other IDs are used
// as tags directly.
type Engine struct {
	client *Client
	cfg    EngineConfig
	log    zerolog.Logger

	mu      sync.Mutex
	tag     string
	runner  Options
	lastRun *StreamStats
}

var _ engine.LanguageModel = (*Engine)(nil)

// NewEngine creates an Engine.
func NewEngine(client *Client, cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.KeepAlive == "" {
		cfg.KeepAlive = "30m"
	}
	return &Engine{
		client: client,
		cfg:    cfg,
		log:    logger.With().Str("component", "ollama-engine").Logger(),
	}
}

// Download pulls the model. Progress is the byte share across all layers
// seen so far, so it never moves backwards when a new layer starts.
func (e *Engine) Download(ctx context.Context, modelID string, onProgress func(float64)) error {
	if err := e.client.EnsureRunning(ctx); err != nil {
		return err
	}
	tag := model.ModelArtifact(modelID)

	type layer struct{ completed, total int64 }
	layers := make(map[string]layer)
	last := 0.0

	err := e.client.Pull(ctx, tag, func(p PullProgress) {
		if p.Digest != "" && p.Total > 0 {
			layers[p.Digest] = layer{completed: p.Completed, total: p.Total}
		}
		var done, total int64
		for _, l := range layers {
			done += l.completed
			total += l.total
		}
		if total == 0 || onProgress == nil {
			return
		}
		f := float64(done) / float64(total)
		if f > 1 {
			f = 1
		}
		if f > last && f < 1 {
			last = f
			onProgress(f)
		}
	})
	if err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(1)
	}
	e.log.Debug().Str("tag", tag).Msg("pull complete")
	return nil
}

// Initialize loads the model with the requested runner options.
func (e *Engine) Initialize(ctx context.Context, params engine.LoadParams) error {
	if err := e.client.EnsureRunning(ctx); err != nil {
		return err
	}
	tag := model.ModelArtifact(params.ModelID)
	gpu := params.GPULayers
	runner := Options{
		NumCtx:    params.ContextSize,
		NumGPU:    &gpu,
		NumThread: params.CPUThreads,
	}

	if err := e.client.Load(ctx, tag, &runner, e.cfg.KeepAlive); err != nil {
		return err
	}

	e.mu.Lock()
	previous := e.tag
	e.tag = tag
	e.runner = runner
	e.mu.Unlock()

	if previous != "" && previous != tag {
		if err := e.client.Unload(ctx, previous); err != nil {
			e.log.Warn().Err(err).Str("tag", previous).Msg("failed to unload previous model")
		}
	}
	e.log.Info().Str("tag", tag).Int("num_ctx", params.ContextSize).Msg("model loaded")
	return nil
}

// Generate streams a chat completion. The runner options are repeated on
// every request; Ollama reloads the model when they differ from the
// resident instance.
func (e *Engine) Generate(ctx context.Context, turns []engine.Turn, sampling engine.SamplingParams, onToken func(string)) error {
	e.mu.Lock()
	tag := e.tag
	opts := e.runner
	e.mu.Unlock()
	if tag == "" {
		return errors.New("no model loaded")
	}

	temp := sampling.Temperature
	opts.Temperature = &temp
	opts.NumPredict = sampling.MaxTokens

	msgs := make([]Message, len(turns))
	for i, t := range turns {
		msgs[i] = Message{Role: t.Role, Content: t.Content}
	}

	stats := NewStreamStats()
	err := e.client.ChatStream(ctx, ChatRequest{
		Model:     tag,
		Messages:  msgs,
		Options:   &opts,
		KeepAlive: e.cfg.KeepAlive,
	}, func(chunk ChatChunk) {
		if chunk.Message.Content != "" {
			stats.RecordFirstToken()
			onToken(chunk.Message.Content)
		}
		if chunk.Done {
			stats.Finalize(chunk)
		}
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.lastRun = stats
	e.mu.Unlock()
	e.log.Debug().Str("tag", tag).Msg(stats.Format())
	return nil
}

// Unload evicts the loaded model, if any.
func (e *Engine) Unload(ctx context.Context) error {
	e.mu.Lock()
	tag := e.tag
	e.tag = ""
	e.mu.Unlock()
	if tag == "" {
		return nil
	}
	return e.client.Unload(ctx, tag)
}

// LastStats returns the statistics of the most recent completed generation.
func (e *Engine) LastStats() *StreamStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

// Installed lists locally installed tags.
func (e *Engine) Installed(ctx context.Context) ([]ModelInfo, error) {
	return e.client.ListModels(ctx)
}
