// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"

	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/tasks"
)

// =============================================================================
// SETTINGS
// =============================================================================

// UpdateSettings validates, applies and persists settings, then reloads
// whichever engines the change affects in the background. Invalid settings
// are reported as an advisory and not applied. Reload failures are reported
// the same way; the new settings stay in effect.
func (s *Session) UpdateSettings(next model.Settings) error {
	if err := next.Validate(); err != nil {
		s.Advise("Invalid settings: " + oneLine(err))
		return fmt.Errorf("invalid settings: %w", err)
	}

	old := s.settings.Get()
	s.settings.Set(next)
	if s.deps.Settings != nil {
		if err := s.deps.Settings.Save(next); err != nil {
			s.log.Warn().Err(err).Msg("could not persist settings")
			s.Advise("Failed to save settings: " + err.Error())
		}
	}

	plan := model.Diff(old, next)
	s.log.Info().
		Bool("reload_model", plan.Model).
		Bool("reload_speech", plan.Speech).
		Msg("settings updated")
	if !plan.Any() {
		return nil
	}

	s.exec.Go("apply settings", func(ctx context.Context, _ *tasks.Task) error {
		release, err := s.lockEngines(ctx)
		if err != nil {
			return err
		}
		defer release()
		return s.applySettings(ctx, plan)
	})
	return nil
}

// applySettings brings the engines in line with the current settings. It
// runs under the engine lock, so overlapping updates apply in turn and the
// last one stored wins.
func (s *Session) applySettings(ctx context.Context, plan model.ReloadPlan) error {
	cur := s.settings.Get()
	if plan.Model {
		want := loadParams(cur)
		loaded, ok := s.model.Loaded()
		if !ok || loaded != want || s.model.Status() == lifecycle.StatusError {
			if err := s.model.Unload(ctx); err != nil {
				s.log.Warn().Err(err).Msg("unload before reload failed")
			}
			if err := s.model.Initialize(ctx, want); err != nil {
				s.Advise("Failed to apply settings: " + err.Error())
				return err
			}
		}
	}
	if plan.Speech && (s.speech.ModelID() != cur.SpeechModelID || !s.speech.Ready().Get()) {
		if err := s.speech.Cleanup(ctx); err != nil {
			s.log.Warn().Err(err).Msg("speech cleanup before reload failed")
		}
		if err := s.speech.Initialize(ctx, cur.SpeechModelID); err != nil {
			s.Advise("Failed to load voice model: " + err.Error())
			return err
		}
	}
	return nil
}

// ResetSettings restores the factory settings.
func (s *Session) ResetSettings() error {
	return s.UpdateSettings(model.DefaultSettings())
}

// =============================================================================
// CLEAR
// =============================================================================

// ClearMessages empties the transcript and leaves a confirmation message.
// If an archive is configured and the conversation had user messages, it is
// archived first.
func (s *Session) ClearMessages() {
	modelID := s.settings.Get().ModelID
	s.loop.Post(func() {
		snap := s.transcript.Snapshot()
		s.transcript.Clear()
		if err := s.transcript.Append(model.NewSystemMessage(MsgCleared)); err != nil {
			s.log.Warn().Err(err).Msg("could not append system message")
		}
		s.log.Info().Int("messages", snap.Len()).Msg("chat cleared")

		kept := snap.Filter(archivable)
		if s.deps.Archive == nil || !hasUserMessage(kept) {
			return
		}
		s.exec.Go("archive conversation", func(ctx context.Context, _ *tasks.Task) error {
			id, err := s.deps.Archive.Archive(ctx, modelID, kept)
			if err != nil {
				s.log.Warn().Err(err).Msg("could not archive conversation")
				return err
			}
			s.log.Info().Str("id", id).Int("messages", len(kept)).Msg("conversation archived")
			return nil
		})
	})
}

func archivable(m model.Message) bool {
	return m.Role != model.RoleSystem && m.Kind == model.KindText && !m.Streaming
}

func hasUserMessage(msgs []model.Message) bool {
	for _, m := range msgs {
		if m.Role == model.RoleUser {
			return true
		}
	}
	return false
}
