// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"strings"
	"time"

	"github.com/jeranaias/offchat/internal/engine"
	"github.com/jeranaias/offchat/internal/filter"
	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/tasks"
	"github.com/jeranaias/offchat/internal/telemetry"
	"github.com/jeranaias/offchat/internal/util"
	"github.com/jeranaias/offchat/internal/voice"
)

// =============================================================================
// USER INPUT
// =============================================================================

// SendUserInput appends a user message and starts the reply. Blank input
// without attachments is ignored. While a reply is outstanding or voice
// capture is active the input is rejected with an advisory and false is
// returned.
func (s *Session) SendUserInput(text string, attachments []string) bool {
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 {
		return false
	}
	if s.voice.Current() != voice.StateIdle || !s.busy.CompareAndSwap(0, 1) {
		s.Advise(MsgBusy)
		return false
	}

	msg := model.NewUserMessage(text, attachments...)
	s.log.Info().Str("preview", msg.Preview(50)).Msg("user input")
	s.loop.Post(func() {
		if err := s.transcript.Append(msg); err != nil {
			s.log.Warn().Err(err).Msg("could not append user message")
		}
	})
	s.dispatch(&msg, "")
	return true
}

// Respond generates a reply in the background. latest is included in the
// context even if it is not in the transcript; placeholderID names an
// existing placeholder to fill, or "" to create one.
func (s *Session) Respond(latest *model.Message, placeholderID string) {
	s.busy.Add(1)
	s.dispatch(latest, placeholderID)
}

// dispatch runs respond on the executor. The caller has already counted
// the reply in busy.
func (s *Session) dispatch(latest *model.Message, placeholderID string) {
	s.exec.Go("generate reply", func(ctx context.Context, _ *tasks.Task) error {
		defer s.busy.Add(-1)
		s.respond(ctx, latest, placeholderID)
		return nil
	})
}

// RespondTo is the synchronous reply used by the voice flow.
func (s *Session) RespondTo(ctx context.Context, latest model.Message, placeholderID string) {
	s.busy.Add(1)
	defer s.busy.Add(-1)
	s.respond(ctx, &latest, placeholderID)
}

// =============================================================================
// GENERATION
// =============================================================================

func (s *Session) respond(ctx context.Context, latest *model.Message, placeholderID string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	if !s.model.IsReady() {
		msg := notReadyMessage(s.model.Status())
		s.log.Warn().Str("status", s.model.Status().String()).Msg("reply requested before model is ready")
		s.loop.Post(func() {
			if placeholderID != "" {
				s.transcript.RemoveByID(placeholderID)
			}
			if err := s.transcript.Append(model.NewSystemMessage(msg)); err != nil {
				s.log.Warn().Err(err).Msg("could not append system message")
			}
		})
		return
	}

	settings := s.settings.Get()

	var turns []engine.Turn
	var setupErr error
	// prepare may create the placeholder, so wait for it even when ctx ends.
	err := s.loop.Do(context.WithoutCancel(ctx), func() {
		turns, placeholderID, setupErr = s.prepare(latest, placeholderID)
	})
	if err == nil {
		err = setupErr
	}
	if err != nil {
		s.log.Error().Err(err).Msg("could not prepare reply")
		s.Advise("Error generating response: " + err.Error())
		return
	}
	if ctx.Err() != nil {
		s.log.Info().Msg("reply abandoned before generation")
		id := placeholderID
		s.loop.Post(func() {
			s.transcript.RemoveByID(id)
		})
		return
	}

	stream := filter.NewStream(settings.ShowThinking)
	stats := telemetry.Generation{ModelID: settings.ModelID}
	if latest != nil {
		stats.Prompt = latest.Content
	}
	start := time.Now()
	var shown string

	_, genErr := s.model.Generate(ctx, lifecycle.GenerateRequest{
		Turns:        turns,
		SystemPrompt: settings.SystemPrompt,
		Sampling: engine.SamplingParams{
			Temperature: settings.Temperature,
			MaxTokens:   settings.MaxTokens,
		},
	}, func(fragment string) {
		stats.Fragments++
		if stats.Fragments == 1 {
			stats.TTFT = time.Since(start)
		}
		text, ok := stream.Push(fragment)
		if !ok || text == shown {
			return
		}
		shown = text
		id := placeholderID
		s.loop.Post(func() {
			s.transcript.ReplaceContent(id, text)
		})
	})
	stats.Duration = time.Since(start)

	if genErr != nil {
		reason := lifecycle.Reason(genErr)
		stats.Failed = true
		s.usage.RecordGeneration(stats)
		s.log.Error().Err(genErr).Msg("generation failed")
		_ = s.loop.Do(context.WithoutCancel(ctx), func() {
			s.transcript.RemoveByID(placeholderID)
			if err := s.transcript.Append(model.NewSystemMessage("Error generating response: " + reason)); err != nil {
				s.log.Warn().Err(err).Msg("could not append system message")
			}
		})
		s.Advise("Error generating response: " + reason)
		return
	}

	final, ok := stream.Result()
	stats.Chars = len(final)
	s.usage.RecordGeneration(stats)
	s.log.Info().
		Int("fragments", stats.Fragments).
		Dur("duration", stats.Duration).
		Str("preview", util.Preview(final, 50)).
		Msg("reply complete")

	_ = s.loop.Do(context.WithoutCancel(ctx), func() {
		if !ok {
			s.transcript.RemoveByID(placeholderID)
			return
		}
		s.transcript.ReplaceContent(placeholderID, final)
		s.transcript.CompleteStreaming(placeholderID)
	})
}

// prepare runs on the loop. It builds the model context and makes sure a
// placeholder exists for the reply.
func (s *Session) prepare(latest *model.Message, placeholderID string) ([]engine.Turn, string, error) {
	snap := s.transcript.Snapshot()
	history := snap.Filter(func(m model.Message) bool {
		return m.Role != model.RoleSystem && !m.Streaming && m.Kind == model.KindText
	})
	if latest != nil {
		found := false
		for _, m := range history {
			if m.ID == latest.ID {
				found = true
				break
			}
		}
		if !found {
			history = append(history, *latest)
		}
	}

	turns := make([]engine.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, engine.Turn{Role: m.Role.String(), Content: m.Content})
	}

	if placeholderID != "" && snap.Index(placeholderID) >= 0 {
		return turns, placeholderID, nil
	}
	ph := model.NewPlaceholder()
	if err := s.transcript.Append(ph); err != nil {
		return nil, "", err
	}
	return turns, ph.ID, nil
}

// Ask runs a single prompt outside the transcript and returns the filtered
// reply. The model must be ready.
func (s *Session) Ask(ctx context.Context, prompt string) (string, error) {
	s.genMu.Lock()
	defer s.genMu.Unlock()

	settings := s.settings.Get()
	start := time.Now()
	fragments := 0
	raw, err := s.model.Generate(ctx, lifecycle.GenerateRequest{
		Turns:        []engine.Turn{{Role: model.RoleUser.String(), Content: prompt}},
		SystemPrompt: settings.SystemPrompt,
		Sampling: engine.SamplingParams{
			Temperature: settings.Temperature,
			MaxTokens:   settings.MaxTokens,
		},
	}, func(string) { fragments++ })
	s.usage.RecordGeneration(telemetry.Generation{
		ModelID:   settings.ModelID,
		Prompt:    prompt,
		Fragments: fragments,
		Duration:  time.Since(start),
		Failed:    err != nil,
	})
	if err != nil {
		return "", err
	}
	text, _ := filter.Apply(raw, settings.ShowThinking)
	return text, nil
}
