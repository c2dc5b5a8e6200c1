// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package filter

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

var (
	boldStars      = regexp.MustCompile(`\*\*(.+?)\*\*`)
	boldUnderscore = regexp.MustCompile(`__(.+?)__`)
	headingMarkers = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	fencedCode     = regexp.MustCompile("(?s)```.*?```")
	inlineCode     = regexp.MustCompile("`(.+?)`")
	markdownLink   = regexp.MustCompile(`\[(.+?)\]\(.+?\)`)
	angleTag       = regexp.MustCompile(`<[^>]+>`)

	// Single delimiters only; doubled ones belong to bold. RE2 has no
	// lookaround, so these use regexp2.
	italicStar       = mustRegexp2(`(?<!\*)\*(?!\*)(.+?)(?<!\*)\*(?!\*)`)
	italicUnderscore = mustRegexp2(`(?<!_)_(?!_)(.+?)(?<!_)_(?!_)`)

	// Replacement characters and control characters other than line breaks and tabs.
	dropInvisible = runes.Remove(runes.Predicate(func(r rune) bool {
		if r == utf8.RuneError {
			return true
		}
		switch r {
		case '\n', '\r', '\t':
			return false
		}
		return unicode.IsControl(r)
	}))
)

func mustRegexp2(expr string) *regexp2.Regexp {
	re := regexp2.MustCompile(expr, regexp2.None)
	re.MatchTimeout = 100 * time.Millisecond
	return re
}

// Normalize strips markdown and formatting characters, in this order:
// invisible characters, "$", bold, italic, heading markers, fenced code
// blocks, inline code, links, leftover angle-bracket tags. Markup passes
// repeat until nothing changes, so stacked headings and nested links are
// fully unwrapped and Normalize(Normalize(s)) == Normalize(s). The result
// is trimmed.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	if cleaned, _, err := transform.String(dropInvisible, text); err == nil {
		text = cleaned
	}
	text = strings.TrimSpace(strings.ReplaceAll(text, "$", ""))

	// Every pass that changes the text makes it shorter.
	for {
		next := stripMarkup(text)
		if next == text {
			return text
		}
		text = next
	}
}

func stripMarkup(text string) string {
	text = boldStars.ReplaceAllString(text, "$1")
	text = boldUnderscore.ReplaceAllString(text, "$1")
	text = replace2(italicStar, text)
	text = replace2(italicUnderscore, text)

	text = headingMarkers.ReplaceAllString(text, "")
	text = fencedCode.ReplaceAllString(text, "")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = markdownLink.ReplaceAllString(text, "$1")
	text = angleTag.ReplaceAllString(text, "")

	return strings.TrimSpace(text)
}

// replace2 unwraps group 1; on a match timeout the text is left as is.
func replace2(re *regexp2.Regexp, text string) string {
	out, err := re.Replace(text, "$1", -1, -1)
	if err != nil {
		return text
	}
	return out
}
