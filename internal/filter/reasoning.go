// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package filter

import "strings"

// reasoningTags are the span names models use for hidden chain of thought.
// Matching is case sensitive.
var reasoningTags = []string{"think", "thinking", "reasoning"}

var (
	openTags  = make([]string, len(reasoningTags))
	closeTags = make([]string, len(reasoningTags))
)

func init() {
	for i, name := range reasoningTags {
		openTags[i] = "<" + name + ">"
		closeTags[i] = "</" + name + ">"
	}
}

// reasoningScanner tracks reasoning spans over a growing buffer. Text outside
// spans is copied to kept; a span opened by one tag ends only at that tag's
// own closing tag. An unterminated span hides everything after its opening tag.
type reasoningScanner struct {
	kept   strings.Builder
	pos    int // next unscanned byte
	inSpan int // index into reasoningTags, or -1
}

func newReasoningScanner() reasoningScanner {
	return reasoningScanner{inSpan: -1}
}

// advance scans text[pos:]. text must extend the text seen by earlier calls.
func (r *reasoningScanner) advance(text string) {
	for r.pos < len(text) {
		if r.inSpan >= 0 {
			closing := closeTags[r.inSpan]
			j := strings.Index(text[r.pos:], closing)
			if j < 0 {
				// A closing tag may straddle the next fragment.
				if keep := len(text) - (len(closing) - 1); keep > r.pos {
					r.pos = keep
				}
				return
			}
			r.pos += j + len(closing)
			r.inSpan = -1
			continue
		}

		i := strings.IndexByte(text[r.pos:], '<')
		if i < 0 {
			r.kept.WriteString(text[r.pos:])
			r.pos = len(text)
			return
		}
		r.kept.WriteString(text[r.pos : r.pos+i])
		r.pos += i

		tag, partial := matchOpenTag(text[r.pos:])
		switch {
		case tag >= 0:
			r.inSpan = tag
			r.pos += len(openTags[tag])
		case partial:
			// Could still become an opening tag; decide on the next fragment.
			return
		default:
			r.kept.WriteByte('<')
			r.pos++
		}
	}
}

// visible returns the text that survives reasoning removal.
func (r *reasoningScanner) visible(text string) string {
	if r.inSpan >= 0 {
		return r.kept.String()
	}
	if r.pos >= len(text) {
		return r.kept.String()
	}
	return r.kept.String() + text[r.pos:]
}

// matchOpenTag reports which opening tag s starts with, or whether s is a
// strict prefix of one.
func matchOpenTag(s string) (tag int, partial bool) {
	tag = -1
	for i, open := range openTags {
		if strings.HasPrefix(s, open) {
			return i, false
		}
		if len(s) < len(open) && strings.HasPrefix(open, s) {
			partial = true
		}
	}
	return tag, partial
}

// StripReasoning removes reasoning spans from a complete text and trims it.
func StripReasoning(text string) string {
	r := newReasoningScanner()
	r.advance(text)
	return strings.TrimSpace(r.visible(text))
}
