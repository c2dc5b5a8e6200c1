// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/transcript"
	"github.com/jeranaias/offchat/internal/voice"
)

// =============================================================================
// SESSION UPDATE MESSAGES
// =============================================================================

// TranscriptMsg carries a new transcript snapshot.
type TranscriptMsg struct {
	Snapshot transcript.Snapshot
}

// ModelStatusMsg carries a language model status change.
type ModelStatusMsg struct {
	Update lifecycle.StatusUpdate
}

// SpeechStatusMsg carries a speech engine status change.
type SpeechStatusMsg struct {
	Update lifecycle.StatusUpdate
}

// SpeechReadyMsg carries speech readiness.
type SpeechReadyMsg struct {
	Ready bool
}

// VoiceMsg carries the voice capture state.
type VoiceMsg struct {
	State voice.State
}

// AdvisoryMsg carries the session advisory; empty means none.
type AdvisoryMsg struct {
	Text string
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// subscriptions holds one channel per session observable. The channels
// conflate, so a slow render only ever sees the latest value.
type subscriptions struct {
	transcript <-chan transcript.Snapshot
	model      <-chan lifecycle.StatusUpdate
	speech     <-chan lifecycle.StatusUpdate
	ready      <-chan bool
	voice      <-chan voice.State
	advisory   <-chan string
	cancels    []func()
}

func subscribe(b Backend) *subscriptions {
	s := &subscriptions{}
	var cancel func()
	s.transcript, cancel = b.Transcript().Subscribe()
	s.cancels = append(s.cancels, cancel)
	s.model, cancel = b.ModelStatus().Subscribe()
	s.cancels = append(s.cancels, cancel)
	s.speech, cancel = b.SpeechStatus().Subscribe()
	s.cancels = append(s.cancels, cancel)
	s.ready, cancel = b.SpeechReady().Subscribe()
	s.cancels = append(s.cancels, cancel)
	s.voice, cancel = b.VoiceState().Subscribe()
	s.cancels = append(s.cancels, cancel)
	s.advisory, cancel = b.Advisory().Subscribe()
	s.cancels = append(s.cancels, cancel)
	return s
}

// close unsubscribes; pending listen commands then return nil.
func (s *subscriptions) close() {
	for _, c := range s.cancels {
		c()
	}
	s.cancels = nil
}

func (s *subscriptions) all() tea.Cmd {
	return tea.Batch(
		listen(s.transcript, func(v transcript.Snapshot) tea.Msg { return TranscriptMsg{v} }),
		listen(s.model, func(v lifecycle.StatusUpdate) tea.Msg { return ModelStatusMsg{v} }),
		listen(s.speech, func(v lifecycle.StatusUpdate) tea.Msg { return SpeechStatusMsg{v} }),
		listen(s.ready, func(v bool) tea.Msg { return SpeechReadyMsg{v} }),
		listen(s.voice, func(v voice.State) tea.Msg { return VoiceMsg{v} }),
		listen(s.advisory, func(v string) tea.Msg { return AdvisoryMsg{v} }),
	)
}

// listen waits for the next value on ch. The handler for the resulting
// message re-issues it.
func listen[T any](ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return wrap(v)
	}
}
