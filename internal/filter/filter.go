// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package filter turns raw model output into displayable text.
//
// The pipeline runs in a fixed order: reasoning spans are hidden (unless the
// user asked to see them), then markdown and formatting characters are
// normalized away. An empty result means "nothing to show yet" and callers
// must leave the current placeholder on screen.
package filter

import "strings"

// Apply filters the full accumulated text. It reports false when the result
// is empty and nothing should be displayed.
func Apply(raw string, showReasoning bool) (string, bool) {
	s := NewStream(showReasoning)
	return s.Push(raw)
}

// Stream filters a growing response one fragment at a time. Reasoning tags
// are scanned incrementally so each byte is examined once; the result after
// every Push equals Apply on everything pushed so far.
type Stream struct {
	showReasoning bool
	raw           strings.Builder
	scan          reasoningScanner
}

// NewStream creates a Stream for one generation.
func NewStream(showReasoning bool) *Stream {
	return &Stream{
		showReasoning: showReasoning,
		scan:          newReasoningScanner(),
	}
}

// Push appends a fragment and returns the displayable text.
func (s *Stream) Push(fragment string) (string, bool) {
	s.raw.WriteString(fragment)
	return s.Result()
}

// Result returns the displayable text for everything pushed so far.
func (s *Stream) Result() (string, bool) {
	text := s.raw.String()
	if !s.showReasoning {
		s.scan.advance(text)
		text = strings.TrimSpace(s.scan.visible(text))
	}
	out := Normalize(text)
	return out, out != ""
}

// Raw returns the unfiltered accumulated text.
func (s *Stream) Raw() string {
	return s.raw.String()
}

// Len returns the number of raw bytes pushed.
func (s *Stream) Len() int {
	return s.raw.Len()
}
