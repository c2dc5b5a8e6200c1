// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/offchat/internal/engine"
	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/observe"
	"github.com/jeranaias/offchat/internal/tasks"
	"github.com/jeranaias/offchat/internal/telemetry"
	"github.com/jeranaias/offchat/internal/transcript"
	"github.com/jeranaias/offchat/internal/voice"
)

// User-visible texts.
const (
	MsgBusy        = voice.MsgBusy
	MsgCleared     = "Chat cleared. Start a new conversation!"
	msgStarting    = "AI is starting up. Please wait..."
	msgDownloading = "AI model is downloading. Please wait..."
	msgLoading     = "AI model is loading. Please wait..."
	msgInitFailed  = "AI initialization failed. Please restart the app."
	msgNotReady    = "AI not ready. Please wait..."
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// SettingsStore persists chat settings.
type SettingsStore interface {
	Load() (model.Settings, error)
	Save(model.Settings) error
}

// Archiver keeps cleared conversations.
type Archiver interface {
	Archive(ctx context.Context, modelID string, messages []model.Message) (string, error)
}

// Deps are the session's collaborators. Model and Speech are required.
type Deps struct {
	Model  engine.LanguageModel
	Speech engine.Speech

	// Settings is optional; without it settings live in memory only.
	Settings SettingsStore

	// Archive is optional; when set, ClearMessages archives the transcript.
	Archive Archiver

	// Storage is the pre-flight check run before model downloads.
	Storage lifecycle.StorageCheck

	// Usage collects statistics. A fresh in-memory tracker is used if nil.
	Usage *telemetry.Tracker

	// ProgressInterval throttles download progress messages.
	ProgressInterval time.Duration

	Logger zerolog.Logger
}

// =============================================================================
// SESSION
// =============================================================================

// Session is the conversation orchestrator.
type Session struct {
	deps Deps
	log  zerolog.Logger

	exec       *tasks.Executor
	loop       *tasks.Loop
	transcript *transcript.Transcript
	model      *lifecycle.ModelController
	speech     *lifecycle.SpeechController
	voice      *voice.Controller
	usage      *telemetry.Tracker

	settings *observe.Value[model.Settings]
	advisory *observe.Value[string]

	busy    atomic.Int32  // outstanding replies
	genMu   sync.Mutex    // one generation at a time
	engines chan struct{} // held while engines load or reload
	closed  atomic.Bool
}

// New wires a session. Nothing is loaded until Start.
func New(deps Deps) *Session {
	usage := deps.Usage
	if usage == nil {
		usage = telemetry.NewTracker(nil)
	}
	s := &Session{
		deps:       deps,
		log:        deps.Logger.With().Str("component", "session").Logger(),
		exec:       tasks.NewExecutor(tasks.DefaultExecutorConfig()),
		loop:       tasks.NewLoop(),
		transcript: transcript.New(),
		usage:      usage,
		settings:   observe.NewValue(model.DefaultSettings()),
		advisory:   observe.NewValue(""),
		engines:    make(chan struct{}, 1),
	}
	s.model = lifecycle.NewModelController(deps.Model, lifecycle.ModelConfig{
		Storage:          deps.Storage,
		ProgressInterval: deps.ProgressInterval,
	}, deps.Logger)
	s.speech = lifecycle.NewSpeechController(deps.Speech, deps.Logger)
	s.voice = voice.New(voice.Deps{
		Speech:     countingSpeech{SpeechController: s.speech, usage: usage},
		Host:       s,
		Transcript: s.transcript,
		Executor:   s.exec,
		Loop:       s.loop,
		Logger:     deps.Logger,
	})
	return s
}

// Transcript returns the transcript stream.
func (s *Session) Transcript() *observe.Value[transcript.Snapshot] {
	return s.transcript.Updates()
}

// Messages returns the current transcript messages.
func (s *Session) Messages() []model.Message {
	return s.transcript.Snapshot().Messages
}

// ModelStatus returns the language model status stream.
func (s *Session) ModelStatus() *observe.Value[lifecycle.StatusUpdate] {
	return s.model.Updates()
}

// SpeechStatus returns the speech engine status stream.
func (s *Session) SpeechStatus() *observe.Value[lifecycle.StatusUpdate] {
	return s.speech.Updates()
}

// SpeechReady returns the speech readiness stream.
func (s *Session) SpeechReady() *observe.Value[bool] {
	return s.speech.Ready()
}

// Advisory returns the transient error/notice stream. Empty means none.
func (s *Session) Advisory() *observe.Value[string] {
	return s.advisory
}

// VoiceState returns the capture state stream.
func (s *Session) VoiceState() *observe.Value[voice.State] {
	return s.voice.State()
}

// SettingsUpdates returns the settings stream.
func (s *Session) SettingsUpdates() *observe.Value[model.Settings] {
	return s.settings
}

// Settings returns the settings in effect.
func (s *Session) Settings() model.Settings {
	return s.settings.Get()
}

// ModelInfo describes the loaded language model.
func (s *Session) ModelInfo() lifecycle.ModelInfo {
	return s.model.Info()
}

// SpeechModelID returns the loaded speech model, or "".
func (s *Session) SpeechModelID() string {
	return s.speech.ModelID()
}

// Usage returns the statistics for this session.
func (s *Session) Usage() telemetry.SessionUsage {
	return s.usage.Current()
}

// Tasks returns running and recently finished background tasks.
func (s *Session) Tasks() (running, finished []*tasks.Task) {
	return s.exec.Running(), s.exec.History()
}

// Advise publishes a transient message.
func (s *Session) Advise(msg string) {
	if msg != "" {
		s.log.Info().Str("advisory", msg).Msg("advisory")
	}
	s.advisory.Set(msg)
}

// AcknowledgeError clears the transient message.
func (s *Session) AcknowledgeError() {
	s.advisory.Set("")
}

// Busy reports whether a reply is outstanding.
func (s *Session) Busy() bool {
	return s.busy.Load() > 0
}

// PressVoice toggles voice capture.
func (s *Session) PressVoice() {
	s.voice.Press()
}

// =============================================================================
// STARTUP AND SHUTDOWN
// =============================================================================

// Start loads settings and initializes both engines in the background: the
// language model first, then speech once the model is ready.
func (s *Session) Start(ctx context.Context) {
	settings := s.loadSettings()
	s.settings.Set(settings)

	s.exec.Go("initialize engines", func(tctx context.Context, _ *tasks.Task) error {
		tctx, cancel := mergeCancel(tctx, ctx)
		defer cancel()
		release, err := s.lockEngines(tctx)
		if err != nil {
			return err
		}
		defer release()
		// A settings update may have landed before the lock was taken.
		current := s.settings.Get()
		if err := s.initModel(tctx, current); err != nil {
			return err
		}
		s.initSpeech(tctx, current.SpeechModelID)
		return nil
	})
}

func (s *Session) loadSettings() model.Settings {
	if s.deps.Settings == nil {
		return s.settings.Get()
	}
	loaded, err := s.deps.Settings.Load()
	if err != nil {
		s.log.Warn().Err(err).Msg("could not load settings, using defaults")
		return model.DefaultSettings()
	}
	loaded = loaded.WithDefaults()
	if err := loaded.Validate(); err != nil {
		s.log.Warn().Err(err).Msg("stored settings are invalid, using defaults")
		return model.DefaultSettings()
	}
	return loaded
}

// lockEngines serializes engine loads between startup and settings
// reloads.
func (s *Session) lockEngines(ctx context.Context) (release func(), err error) {
	select {
	case s.engines <- struct{}{}:
		return func() { <-s.engines }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) initModel(ctx context.Context, settings model.Settings) error {
	err := s.model.Initialize(ctx, loadParams(settings))
	if err == nil {
		return nil
	}
	if errors.Is(err, lifecycle.ErrUnloaded) {
		s.log.Info().Msg("model initialization abandoned")
		return err
	}
	msg := "Failed to initialize AI: " + lifecycle.Reason(err)
	if errors.Is(err, lifecycle.ErrStorageInsufficient) {
		msg = lifecycle.Reason(err)
	}
	s.log.Error().Err(err).Msg("model initialization failed")
	s.appendSystem(msg)
	return err
}

func (s *Session) initSpeech(ctx context.Context, modelID string) {
	if err := s.speech.Initialize(ctx, modelID); err != nil {
		s.log.Warn().Err(err).Str("model", modelID).Msg("voice input unavailable")
	}
}

// WaitReady blocks until the language model is READY or has failed.
func (s *Session) WaitReady(ctx context.Context) error {
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()

	var result error
	settled := false
	s.model.Updates().Watch(watchCtx, func(u lifecycle.StatusUpdate) {
		if settled {
			return
		}
		switch u.Status {
		case lifecycle.StatusReady:
		case lifecycle.StatusError:
			result = errors.New(u.Message)
		default:
			return
		}
		settled = true
		stop()
	})
	if !settled {
		return ctx.Err()
	}
	return result
}

// Wait blocks until no background task is running and the delivery loop
// is drained.
func (s *Session) Wait() {
	for {
		s.exec.Wait()
		s.loop.Flush()
		if s.exec.Active() == 0 && s.loop.Pending() == 0 {
			return
		}
	}
}

// Close stops voice capture, waits for background work (bounded by ctx)
// and unloads both engines in parallel. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.log.Info().Msg("closing session")
	s.voice.Stop()

	idle := make(chan struct{})
	go func() {
		s.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		s.log.Warn().Msg("background work still running at shutdown")
	}

	var g errgroup.Group
	g.Go(func() error { return s.model.Unload(ctx) })
	g.Go(func() error { return s.speech.Cleanup(ctx) })
	err := g.Wait()

	if uerr := s.usage.EndSession(); uerr != nil {
		s.log.Warn().Err(uerr).Msg("could not save usage")
	}
	s.exec.Stop()
	s.loop.Stop()
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Session) appendSystem(text string) {
	s.loop.Post(func() {
		if err := s.transcript.Append(model.NewSystemMessage(text)); err != nil {
			s.log.Warn().Err(err).Msg("could not append system message")
		}
	})
}

func loadParams(settings model.Settings) engine.LoadParams {
	return engine.LoadParams{
		ModelID:     settings.ModelID,
		ContextSize: settings.ContextSize,
		GPULayers:   settings.GPULayers,
		CPUThreads:  settings.CPUThreads,
	}
}

func notReadyMessage(status lifecycle.Status) string {
	switch status {
	case lifecycle.StatusUninitialized:
		return msgStarting
	case lifecycle.StatusDownloading:
		return msgDownloading
	case lifecycle.StatusLoading:
		return msgLoading
	case lifecycle.StatusError:
		return msgInitFailed
	}
	return msgNotReady
}

// mergeCancel returns a context cancelled when either parent is.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func oneLine(err error) string {
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}

// countingSpeech records transcription outcomes for usage stats.
type countingSpeech struct {
	*lifecycle.SpeechController
	usage *telemetry.Tracker
}

func (c countingSpeech) TranscribeFromMicrophone(ctx context.Context, params engine.CaptureParams) (string, error) {
	text, err := c.SpeechController.TranscribeFromMicrophone(ctx, params)
	if !errors.Is(err, context.Canceled) {
		c.usage.RecordTranscription(err == nil)
	}
	return text, err
}
