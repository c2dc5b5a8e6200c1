// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/offchat/internal/engine"
	"github.com/jeranaias/offchat/internal/observe"
)

// =============================================================================
// SPEECH CONTROLLER
// =============================================================================

// SpeechController runs the speech engine state machine alongside the
// model controller.
type SpeechController struct {
	engine engine.Speech
	log    zerolog.Logger
	status *observe.Value[StatusUpdate]
	ready  *observe.Value[bool]

	mu       sync.Mutex
	inflight *speechAttempt
	loaded   bool
	current  string
	epoch    uint64 // bumped by Cleanup
}

type speechAttempt struct {
	modelID string
	epoch   uint64
	done    chan struct{}
}

// NewSpeechController creates a controller in UNINITIALIZED state.
func NewSpeechController(eng engine.Speech, logger zerolog.Logger) *SpeechController {
	return &SpeechController{
		engine: eng,
		log:    logger.With().Str("component", "speech-lifecycle").Logger(),
		status: observe.NewValue(StatusUpdate{Status: StatusUninitialized}),
		ready:  observe.NewValue(false),
	}
}

// Updates returns the status stream.
func (c *SpeechController) Updates() *observe.Value[StatusUpdate] {
	return c.status
}

// Ready returns the readiness stream: true while a model is loaded and has
// not failed, including while a capture is running.
func (c *SpeechController) Ready() *observe.Value[bool] {
	return c.ready
}

// Status returns the current status.
func (c *SpeechController) Status() Status {
	return c.status.Get().Status
}

// IsReady reports whether a capture can start.
func (c *SpeechController) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded && c.Status() == StatusReady
}

// ModelID returns the loaded model, if any.
func (c *SpeechController) ModelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *SpeechController) setStatus(s Status, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.status.Set(StatusUpdate{Status: s, Message: msg})
	c.log.Debug().Str("status", s.String()).Msg(msg)
}

func (c *SpeechController) setStatusAt(epoch uint64, s Status, format string, args ...any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	c.setStatus(s, format, args...)
	return true
}

// Download fetches the model file.
func (c *SpeechController) Download(ctx context.Context, modelID string) error {
	c.mu.Lock()
	epoch := c.epoch
	c.mu.Unlock()
	return c.download(ctx, modelID, epoch)
}

func (c *SpeechController) download(ctx context.Context, modelID string, epoch uint64) error {
	c.setStatusAt(epoch, StatusDownloading, "Downloading Whisper model: %s", modelID)
	if err := c.engine.Download(ctx, modelID); err != nil {
		c.log.Error().Err(err).Str("model", modelID).Msg("speech model download failed")
		c.setStatusAt(epoch, StatusError, "Download failed: %v", err)
		return newError(ErrEngineDownloadFailed, EngineSpeech, "failed to download "+modelID, err)
	}
	c.log.Info().Str("model", modelID).Msg("speech model download complete")
	return nil
}

// Initialize downloads the model if needed and loads it. Concurrent calls
// for the same model and calls for the already loaded model return nil
// immediately; a call for another model, or after a Cleanup, waits for the
// running attempt first.
func (c *SpeechController) Initialize(ctx context.Context, modelID string) error {
	c.mu.Lock()
	for c.inflight != nil {
		prev := c.inflight
		if prev.modelID == modelID && prev.epoch == c.epoch {
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	if c.loaded && c.current == modelID && c.Status() == StatusReady {
		c.mu.Unlock()
		return nil
	}
	attempt := &speechAttempt{modelID: modelID, epoch: c.epoch, done: make(chan struct{})}
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
		c.log.Info().Str("model", modelID).Msg("speech initialization overtaken by cleanup")
		return newError(ErrEngineInitFailed, EngineSpeech, "", ErrUnloaded)
	}

	if !c.engine.IsDownloaded(modelID) {
		if err := c.download(ctx, modelID, epoch); err != nil {
			return err
		}
	}

	if !c.setStatusAt(epoch, StatusLoading, "Loading Whisper model: %s", modelID) {
		return unloaded()
	}
	err := c.engine.Initialize(ctx, modelID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return unloaded()
	}
	if err != nil {
		c.log.Error().Err(err).Str("model", modelID).Msg("speech model initialization failed")
		c.loaded = false
		c.current = ""
		c.ready.Set(false)
		c.setStatus(StatusError, "Initialization failed: %v", err)
		return newError(ErrEngineInitFailed, EngineSpeech, "failed to load "+modelID, err)
	}
	c.loaded = true
	c.current = modelID
	c.setStatus(StatusReady, "Whisper ready: %s", modelID)
	c.ready.Set(true)
	c.log.Info().Str("model", modelID).Msg("speech model ready")
	return nil
}

// TranscribeFromMicrophone records and transcribes one utterance. The
// status is RECORDING while audio is captured and TRANSCRIBING while it is
// decoded. A failed or blank result is ErrTranscriptionFailed and leaves the
// engine READY; an engine error moves it to ERROR. After a Cleanup during
// the capture the result is still returned but the status stays
// UNINITIALIZED.
func (c *SpeechController) TranscribeFromMicrophone(ctx context.Context, params engine.CaptureParams) (string, error) {
	epoch, err := c.begin(StatusRecording, "Listening...")
	if err != nil {
		return "", err
	}

	onCaptured := params.OnCaptured
	params.OnCaptured = func() {
		c.setStatusAt(epoch, StatusTranscribing, "Transcribing audio...")
		if onCaptured != nil {
			onCaptured()
		}
	}

	res, err := c.engine.TranscribeFromMicrophone(ctx, params)
	return c.finish(epoch, res, err, "Failed to transcribe audio")
}

// TranscribeFile transcribes an audio file.
func (c *SpeechController) TranscribeFile(ctx context.Context, path string) (string, error) {
	epoch, err := c.begin(StatusTranscribing, "Transcribing file...")
	if err != nil {
		return "", err
	}
	res, err := c.engine.TranscribeFile(ctx, path)
	return c.finish(epoch, res, err, "File transcription failed")
}

func (c *SpeechController) begin(s Status, msg string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded || c.Status() != StatusReady {
		return 0, newError(ErrEngineNotReady, EngineSpeech, "speech engine not ready: "+c.Status().String(), nil)
	}
	c.setStatus(s, "%s", msg)
	return c.epoch, nil
}

func (c *SpeechController) finish(epoch uint64, res engine.Transcription, err error, fallback string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.epoch == epoch && c.loaded

	if err != nil {
		switch {
		case !current:
		case errors.Is(err, context.Canceled):
			c.setStatus(StatusReady, "Transcription stopped")
		default:
			c.log.Error().Err(err).Msg("transcription error")
			c.ready.Set(false)
			c.setStatus(StatusError, "Transcription error: %v", err)
		}
		return "", newError(ErrTranscriptionFailed, EngineSpeech, "transcription error", err)
	}

	text := strings.TrimSpace(res.Text)
	if !res.Success || text == "" {
		reason := fallback
		if !res.Success && text != "" {
			reason = text
		} else if res.Success {
			reason = "No speech detected"
		}
		if current {
			c.setStatus(StatusReady, "%s", reason)
		}
		c.log.Warn().Str("reason", reason).Msg("transcription produced no text")
		return "", newError(ErrTranscriptionFailed, EngineSpeech, reason, nil)
	}

	if current {
		c.setStatus(StatusReady, "Transcription complete")
	}
	c.log.Info().Int("chars", len(text)).Msg("transcription complete")
	return text, nil
}

// Stop ends the capture in progress. The transcription of what was
// recorded still completes and is returned by TranscribeFromMicrophone.
func (c *SpeechController) Stop() {
	c.engine.Stop()
	c.log.Debug().Msg("capture stop requested")
}

// Cleanup stops any capture and unloads the model. It always leaves the
// controller UNINITIALIZED; a capture or load still running is disowned.
func (c *SpeechController) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.loaded = false
	c.current = ""
	c.ready.Set(false)
	c.mu.Unlock()

	c.engine.Stop()
	err := c.engine.Unload(ctx)
	c.setStatus(StatusUninitialized, "Whisper unloaded")
	if err != nil {
		return fmt.Errorf("unload speech model: %w", err)
	}
	return nil
}
