// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript holds the ordered list of chat messages.
//
// Every mutation builds a new Snapshot; published snapshots are never
// modified afterwards, so readers can hold on to one while writers continue.
// Operations that target a missing ID are no-ops because a streaming callback
// may arrive after its message was removed.
package transcript

import (
	"errors"
	"sync"

	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/observe"
)

var (
	// ErrStreamingActive is returned when a second streaming assistant
	// message would be added.
	ErrStreamingActive = errors.New("transcript: a streaming reply is already active")

	// ErrDuplicateID is returned when a message ID is already present.
	ErrDuplicateID = errors.New("transcript: duplicate message id")
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is an immutable view of the transcript. Callers must not modify
// the Messages slice.
type Snapshot struct {
	Messages []model.Message `json:"messages"`
	Version  uint64          `json:"version"`
}

// Len returns the number of messages.
func (s Snapshot) Len() int {
	return len(s.Messages)
}

// Index returns the position of id, or -1.
func (s Snapshot) Index(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns the message with id.
func (s Snapshot) Get(id string) (model.Message, bool) {
	if i := s.Index(id); i >= 0 {
		return s.Messages[i], true
	}
	return model.Message{}, false
}

// Last returns the final message.
func (s Snapshot) Last() (model.Message, bool) {
	if len(s.Messages) == 0 {
		return model.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// ActivePlaceholder returns the streaming assistant message, if any.
func (s Snapshot) ActivePlaceholder() (model.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].IsActivePlaceholder() {
			return s.Messages[i], true
		}
	}
	return model.Message{}, false
}

// Filter returns copies of the messages matching keep, in order.
func (s Snapshot) Filter(keep func(model.Message) bool) []model.Message {
	out := make([]model.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is the mutable owner of the message sequence.
type Transcript struct {
	mu      sync.Mutex
	msgs    []model.Message
	version uint64
	updates *observe.Value[Snapshot]
}

// New creates an empty transcript.
func New() *Transcript {
	return &Transcript{
		updates: observe.NewValue(Snapshot{}),
	}
}

// Snapshot returns the current snapshot.
func (t *Transcript) Snapshot() Snapshot {
	return t.updates.Get()
}

// Updates exposes snapshots as an observable stream.
func (t *Transcript) Updates() *observe.Value[Snapshot] {
	return t.updates
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

// Append adds msg at the end.
func (t *Transcript) Append(msg model.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkInsertLocked(msg); err != nil {
		return err
	}
	next := t.copyLocked(len(t.msgs) + 1)
	next = append(next, msg.Clone())
	t.commitLocked(next)
	return nil
}

// InsertBefore places msg immediately before the message with beforeID. If
// beforeID is not present msg is appended.
func (t *Transcript) InsertBefore(msg model.Message, beforeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkInsertLocked(msg); err != nil {
		return err
	}
	idx := t.indexLocked(beforeID)
	next := make([]model.Message, 0, len(t.msgs)+1)
	if idx < 0 {
		next = append(next, t.msgs...)
		next = append(next, msg.Clone())
	} else {
		next = append(next, t.msgs[:idx]...)
		next = append(next, msg.Clone())
		next = append(next, t.msgs[idx:]...)
	}
	t.commitLocked(next)
	return nil
}

// ReplaceContent swaps the content of the message with id. It reports
// whether the message was found.
func (t *Transcript) ReplaceContent(id, text string) bool {
	return t.modify(id, func(m model.Message) model.Message {
		return m.WithContent(text)
	})
}

// CompleteStreaming marks the message with id as no longer streaming.
func (t *Transcript) CompleteStreaming(id string) bool {
	return t.modify(id, func(m model.Message) model.Message {
		return m.Completed()
	})
}

// RemoveByID deletes the message with id.
func (t *Transcript) RemoveByID(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.indexLocked(id)
	if idx < 0 {
		return false
	}
	next := make([]model.Message, 0, len(t.msgs)-1)
	next = append(next, t.msgs[:idx]...)
	next = append(next, t.msgs[idx+1:]...)
	t.commitLocked(next)
	return true
}

// RemoveLast deletes and returns the final message.
func (t *Transcript) RemoveLast() (model.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.msgs) == 0 {
		return model.Message{}, false
	}
	last := t.msgs[len(t.msgs)-1]
	next := make([]model.Message, len(t.msgs)-1)
	copy(next, t.msgs)
	t.commitLocked(next)
	return last, true
}

// FindLast returns the last message for which match is true.
func (t *Transcript) FindLast(match func(model.Message) bool) (model.Message, bool) {
	snap := t.Snapshot()
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		if match(snap.Messages[i]) {
			return snap.Messages[i], true
		}
	}
	return model.Message{}, false
}

// Clear removes every message.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commitLocked(nil)
}

func (t *Transcript) modify(id string, fn func(model.Message) model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.indexLocked(id)
	if idx < 0 {
		return false
	}
	next := t.copyLocked(len(t.msgs))
	next[idx] = fn(next[idx])
	t.commitLocked(next)
	return true
}

func (t *Transcript) checkInsertLocked(msg model.Message) error {
	if t.indexLocked(msg.ID) >= 0 {
		return ErrDuplicateID
	}
	if msg.IsActivePlaceholder() {
		for _, m := range t.msgs {
			if m.IsActivePlaceholder() {
				return ErrStreamingActive
			}
		}
	}
	return nil
}

func (t *Transcript) indexLocked(id string) int {
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Transcript) copyLocked(capacity int) []model.Message {
	next := make([]model.Message, len(t.msgs), capacity)
	copy(next, t.msgs)
	return next
}

// commitLocked installs next as the current sequence and publishes it. next
// is never written again after this call.
func (t *Transcript) commitLocked(next []model.Message) {
	t.msgs = next
	t.version++
	t.updates.Set(Snapshot{Messages: next, Version: t.version})
}
