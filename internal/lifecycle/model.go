// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/offchat/internal/engine"
	"github.com/jeranaias/offchat/internal/observe"
)

// =============================================================================
// MODEL CONTROLLER
// =============================================================================

// ModelConfig configures a ModelController.
type ModelConfig struct {
	// Storage is checked before every download.
	Storage StorageCheck

	// ProgressInterval throttles "Downloading model: N%" updates.
	ProgressInterval time.Duration
}

// GenerateRequest is one generation call.
type GenerateRequest struct {
	Turns        []engine.Turn
	SystemPrompt string
	Sampling     engine.SamplingParams
}

// ModelInfo describes the loaded model.
type ModelInfo struct {
	ModelID     string `json:"model_id"`
	ContextSize int    `json:"context_size"`
	Loaded      bool   `json:"loaded"`
	Status      Status `json:"status"`
}

// ModelController serializes the language model lifecycle.
type ModelController struct {
	engine engine.LanguageModel
	cfg    ModelConfig
	log    zerolog.Logger
	status *observe.Value[StatusUpdate]

	mu       sync.Mutex
	inflight *initAttempt
	loaded   bool
	current  engine.LoadParams
	epoch    uint64 // bumped by Unload; stale callbacks and stages compare against it
}

// initAttempt is the Initialize currently running.
type initAttempt struct {
	params engine.LoadParams
	epoch  uint64
	done   chan struct{}
}

// NewModelController creates a controller in UNINITIALIZED state.
func NewModelController(eng engine.LanguageModel, cfg ModelConfig, logger zerolog.Logger) *ModelController {
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 250 * time.Millisecond
	}
	return &ModelController{
		engine: eng,
		cfg:    cfg,
		log:    logger.With().Str("component", "model-lifecycle").Logger(),
		status: observe.NewValue(StatusUpdate{Status: StatusUninitialized}),
	}
}

// Updates returns the status stream.
func (c *ModelController) Updates() *observe.Value[StatusUpdate] {
	return c.status
}

// Status returns the current status.
func (c *ModelController) Status() Status {
	return c.status.Get().Status
}

// IsReady reports whether Generate may be called.
func (c *ModelController) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded && c.Status() == StatusReady
}

// Info returns a description of the current model.
func (c *ModelController) Info() ModelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ModelInfo{
		ModelID:     c.current.ModelID,
		ContextSize: c.current.ContextSize,
		Loaded:      c.loaded,
		Status:      c.Status(),
	}
}

func (c *ModelController) setStatus(s Status, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.status.Set(StatusUpdate{Status: s, Message: msg})
	c.log.Debug().Str("status", s.String()).Msg(msg)
}

// setStatusAt publishes only if no Unload happened since epoch was taken.
func (c *ModelController) setStatusAt(epoch uint64, s Status, format string, args ...any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.setStatus(s, format, args...)
	return true
}

func (c *ModelController) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Download fetches modelID, reporting throttled progress in the status
// message.
func (c *ModelController) Download(ctx context.Context, modelID string) error {
	return c.download(ctx, modelID, c.currentEpoch())
}

func (c *ModelController) download(ctx context.Context, modelID string, epoch uint64) error {
	c.setStatusAt(epoch, StatusDownloading, "Downloading model: %s", modelID)

	throttle := rate.Sometimes{First: 1, Interval: c.cfg.ProgressInterval}
	onProgress := func(fraction float64) {
		percent := int(fraction * 100)
		if percent >= 100 {
			c.setStatusAt(epoch, StatusDownloading, "Downloading model: 100%%")
			return
		}
		throttle.Do(func() {
			c.setStatusAt(epoch, StatusDownloading, "Downloading model: %d%%", percent)
		})
	}

	if err := c.engine.Download(ctx, modelID, onProgress); err != nil {
		c.log.Error().Err(err).Str("model", modelID).Msg("model download failed")
		c.setStatusAt(epoch, StatusError, "Download failed: %v", err)
		return newError(ErrEngineDownloadFailed, EngineModel, "failed to download "+modelID, err)
	}
	c.log.Info().Str("model", modelID).Msg("model download complete")
	return nil
}

// Initialize checks storage, downloads and loads the model. A call while
// another Initialize for the same params is running, or while already READY
// with the same params, returns nil immediately. A call with other params,
// or one that follows an Unload of the running attempt, waits for that
// attempt to finish and then runs.
func (c *ModelController) Initialize(ctx context.Context, params engine.LoadParams) error {
	c.mu.Lock()
	for c.inflight != nil {
		prev := c.inflight
		if prev.params == params && prev.epoch == c.epoch {
			c.mu.Unlock()
			c.log.Debug().Msg("initialize already in progress, skipping")
			return nil
		}
		c.mu.Unlock()
		c.log.Debug().Str("model", params.ModelID).Msg("waiting for earlier initialize")
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	if c.loaded && c.current == params && c.Status() == StatusReady {
		c.mu.Unlock()
		c.log.Debug().Str("model", params.ModelID).Msg("model already ready, skipping")
		return nil
	}
	attempt := &initAttempt{params: params, epoch: c.epoch, done: make(chan struct{})}
	c.inflight = attempt
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight = nil
		close(attempt.done)
		c.mu.Unlock()
	}()

	epoch := attempt.epoch
	unloaded := func() error {
		c.log.Info().Str("model", params.ModelID).Msg("initialization overtaken by unload")
		return newError(ErrEngineInitFailed, EngineModel, "", ErrUnloaded)
	}

	c.log.Info().
		Str("model", params.ModelID).
		Int("context", params.ContextSize).
		Int("gpu_layers", params.GPULayers).
		Int("threads", params.CPUThreads).
		Msg("initializing model")

	if avail, err := c.cfg.Storage.Check(); err != nil {
		c.setStatusAt(epoch, StatusError, "%s", err.Error())
		return err
	} else if avail > 0 {
		c.log.Debug().Uint64("available_mb", avail).Msg("storage ok")
	}

	if err := c.download(ctx, params.ModelID, epoch); err != nil {
		return err
	}

	if !c.setStatusAt(epoch, StatusLoading, "Loading model: %s", params.ModelID) {
		return unloaded()
	}
	if err := c.engine.Initialize(ctx, params); err != nil {
		c.log.Error().Err(err).Str("model", params.ModelID).Msg("model initialization failed")
		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			return unloaded()
		}
		c.loaded = false
		c.current = engine.LoadParams{}
		c.setStatus(StatusError, "Initialization failed: %v", err)
		c.mu.Unlock()
		return newError(ErrEngineInitFailed, EngineModel, "failed to load "+params.ModelID, err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return unloaded()
	}
	c.loaded = true
	c.current = params
	c.setStatus(StatusReady, "Model ready: %s", params.ModelID)
	c.mu.Unlock()

	c.log.Info().Str("model", params.ModelID).Msg("model ready")
	return nil
}

// Loaded returns the params of the loaded model and whether one is loaded.
func (c *ModelController) Loaded() (engine.LoadParams, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.loaded
}

// Generate runs one completion. It fails with ErrEngineNotReady unless the
// controller is READY, so at most one generation runs at a time. onToken
// receives fragments in order; after an Unload it is no longer called.
func (c *ModelController) Generate(ctx context.Context, req GenerateRequest, onToken func(string)) (string, error) {
	c.mu.Lock()
	if !c.loaded || c.Status() != StatusReady {
		status := c.Status()
		c.mu.Unlock()
		return "", newError(ErrEngineNotReady, EngineModel, "model not ready: "+status.String(), nil)
	}
	epoch := c.epoch
	c.setStatus(StatusGenerating, "Generating response...")
	c.mu.Unlock()

	turns := make([]engine.Turn, 0, len(req.Turns)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		turns = append(turns, engine.Turn{Role: "system", Content: req.SystemPrompt})
	}
	turns = append(turns, req.Turns...)

	c.log.Info().Int("turns", len(turns)).Msg("generating")

	var out strings.Builder
	err := c.engine.Generate(ctx, turns, req.Sampling, func(fragment string) {
		if !c.isCurrent(epoch) {
			return
		}
		out.WriteString(fragment)
		if onToken != nil {
			onToken(fragment)
		}
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.epoch == epoch
	if err != nil {
		c.log.Error().Err(err).Msg("generation failed")
		if current {
			c.setStatus(StatusError, "Generation failed: %v", err)
		}
		return "", newError(ErrGenerationFailed, EngineModel, "error generating response", err)
	}
	if current {
		c.setStatus(StatusReady, "Response complete")
	}
	return out.String(), nil
}

func (c *ModelController) isCurrent(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// Unload releases the model. It is safe in any state and always leaves the
// controller UNINITIALIZED.
func (c *ModelController) Unload(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.loaded = false
	c.current = engine.LoadParams{}
	c.mu.Unlock()

	err := c.engine.Unload(ctx)
	c.setStatus(StatusUninitialized, "Model unloaded")
	if err != nil {
		c.log.Warn().Err(err).Msg("unload reported an error")
		return fmt.Errorf("unload model: %w", err)
	}
	c.log.Info().Msg("model unloaded")
	return nil
}
