// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package voice implements push-to-talk capture: a three-state machine that
// records through the speech controller, commits the transcribed text as a
// user message and hands it to the host for a reply.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/offchat/internal/engine"
	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/observe"
	"github.com/jeranaias/offchat/internal/tasks"
	"github.com/jeranaias/offchat/internal/transcript"
)

// =============================================================================
// STATE
// =============================================================================

// State is the capture state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateProcessing
)

// String returns the upper-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateProcessing:
		return "PROCESSING"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Capture parameters. Silence detection is effectively off: a capture ends
// on the user's second press or after MaxDuration.
const (
	SampleRate  = 16000
	MaxDuration = 60 * time.Second
	MaxSilence  = 60 * time.Second
)

// Advisory texts.
const (
	MsgNotReady = "Voice input not ready. Please wait for initialization."
	MsgBusy     = "Still working on the previous reply. Please wait..."
)

// ErrAlreadyRecording is returned by Start while a capture is running.
var ErrAlreadyRecording = errors.New("voice capture already recording")

// =============================================================================
// COLLABORATORS
// =============================================================================

// Speech is the part of the speech controller used here.
type Speech interface {
	IsReady() bool
	TranscribeFromMicrophone(ctx context.Context, params engine.CaptureParams) (string, error)
	Stop()
}

// Host is the session side of the voice flow.
type Host interface {
	// Busy reports whether a reply is being generated.
	Busy() bool

	// Advise shows a transient message to the user.
	Advise(msg string)

	// RespondTo generates the reply to latest into placeholderID and
	// returns when generation has finished.
	RespondTo(ctx context.Context, latest model.Message, placeholderID string)
}

// Deps are the controller's collaborators.
type Deps struct {
	Speech     Speech
	Host       Host
	Transcript *transcript.Transcript
	Executor   *tasks.Executor
	Loop       *tasks.Loop
	Logger     zerolog.Logger
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is the push-to-talk state machine.
type Controller struct {
	deps  Deps
	log   zerolog.Logger
	state *observe.Value[State]

	mu            sync.Mutex
	placeholderID string
}

// New creates a controller in IDLE state.
func New(deps Deps) *Controller {
	return &Controller{
		deps:  deps,
		log:   deps.Logger.With().Str("component", "voice").Logger(),
		state: observe.NewValue(StateIdle),
	}
}

// State returns the state stream.
func (c *Controller) State() *observe.Value[State] {
	return c.state
}

// Current returns the current state.
func (c *Controller) Current() State {
	return c.state.Get()
}

// Press toggles capture: it starts recording from IDLE, stops it from
// RECORDING and is ignored while PROCESSING.
func (c *Controller) Press() {
	switch c.Current() {
	case StateIdle:
		if err := c.Start(); err != nil && !errors.Is(err, ErrAlreadyRecording) {
			c.log.Debug().Err(err).Msg("voice press rejected")
		}
	case StateRecording:
		c.Stop()
	default:
		c.log.Debug().Msg("voice press ignored while processing")
	}
}

var errRejected = errors.New("voice capture rejected")

// Start begins a capture. It fails with ErrAlreadyRecording while one is
// running; when speech is not ready or a reply is being generated it shows
// an advisory and does nothing.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Get() {
	case StateRecording:
		return ErrAlreadyRecording
	case StateProcessing:
		return errRejected
	}
	if !c.deps.Speech.IsReady() {
		c.deps.Host.Advise(MsgNotReady)
		return errRejected
	}
	if c.deps.Host.Busy() {
		c.deps.Host.Advise(MsgBusy)
		return errRejected
	}

	c.placeholderID = ""
	c.state.Set(StateRecording)
	c.log.Info().Msg("recording started")
	c.deps.Executor.Go("voice capture", c.capture)
	return nil
}

// Stop ends the recording. A placeholder for the reply is queued for the
// transcript first, then the engine is told to stop without blocking the
// caller. Stop outside RECORDING does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state.Get() != StateRecording {
		c.mu.Unlock()
		return
	}
	ph := model.NewPlaceholder()
	c.placeholderID = ph.ID
	c.state.Set(StateProcessing)
	c.mu.Unlock()

	c.deps.Loop.Post(func() {
		if err := c.deps.Transcript.Append(ph); err != nil {
			c.log.Warn().Err(err).Msg("could not insert voice placeholder")
		}
	})
	c.deps.Executor.Go("stop capture", func(context.Context, *tasks.Task) error {
		c.deps.Speech.Stop()
		return nil
	})
	c.log.Info().Msg("recording stopped by user")
}

// capturedOnItsOwn moves RECORDING to PROCESSING when the engine ends the
// capture by itself. No placeholder is created in that case until the text
// is known.
func (c *Controller) capturedOnItsOwn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Get() == StateRecording {
		c.state.Set(StateProcessing)
		c.log.Info().Msg("recording ended")
	}
}

func (c *Controller) capture(ctx context.Context, _ *tasks.Task) error {
	text, err := c.deps.Speech.TranscribeFromMicrophone(ctx, engine.CaptureParams{
		SampleRate:  SampleRate,
		MaxDuration: MaxDuration,
		MaxSilence:  MaxSilence,
		OnCaptured:  c.capturedOnItsOwn,
	})

	c.mu.Lock()
	placeholderID := c.placeholderID
	if c.state.Get() == StateRecording {
		c.state.Set(StateProcessing)
	}
	c.mu.Unlock()

	if err != nil {
		c.fail(placeholderID, err)
		return nil
	}

	user := model.NewUserMessage(strings.TrimSpace(text))
	c.log.Info().Str("preview", user.Preview(50)).Msg("transcription committed")

	err = c.deps.Loop.Do(ctx, func() {
		if placeholderID != "" {
			if ierr := c.deps.Transcript.InsertBefore(user, placeholderID); ierr != nil {
				c.log.Warn().Err(ierr).Msg("could not insert user message")
			}
			return
		}
		if aerr := c.deps.Transcript.Append(user); aerr != nil {
			c.log.Warn().Err(aerr).Msg("could not append user message")
			return
		}
		ph := model.NewPlaceholder()
		if aerr := c.deps.Transcript.Append(ph); aerr != nil {
			c.log.Warn().Err(aerr).Msg("could not append voice placeholder")
			return
		}
		placeholderID = ph.ID
	})
	if err != nil {
		c.reset()
		return err
	}

	c.deps.Host.RespondTo(ctx, user, placeholderID)
	c.reset()
	return nil
}

func (c *Controller) fail(placeholderID string, err error) {
	var le *lifecycle.Error
	switch {
	case errors.Is(err, context.Canceled):
		c.log.Info().Msg("capture cancelled")
	case errors.As(err, &le) && !le.EngineFault():
		c.log.Warn().Str("reason", le.Reason()).Msg("transcription failed")
		c.deps.Host.Advise("Transcription failed: " + le.Reason())
	default:
		c.log.Error().Err(err).Msg("voice input error")
		c.deps.Host.Advise("Voice input error: " + lifecycle.Reason(err))
	}

	if placeholderID != "" {
		c.deps.Loop.Post(func() {
			c.deps.Transcript.RemoveByID(placeholderID)
		})
	}
	c.reset()
}

func (c *Controller) reset() {
	c.mu.Lock()
	c.placeholderID = ""
	c.state.Set(StateIdle)
	c.mu.Unlock()
}
