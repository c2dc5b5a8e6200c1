// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package filter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// REASONING TESTS
// =============================================================================

func TestApply_Reasoning(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		wantShow bool
	}{
		{"complete think span", "<think>secret</think>Hello", "Hello", true},
		{"unterminated span", "<think>partial", "", false},
		{"thinking tag", "<thinking>\nstep 1\nstep 2\n</thinking>\nAnswer", "Answer", true},
		{"reasoning tag", "Before <reasoning>why</reasoning>after", "Before after", true},
		{"two spans", "<think>a</think>one <think>b</think>two", "one two", true},
		{"closed then open", "<think>a</think>visible<think>still going", "visible", true},
		{"text before open", "Sure. <thinking>hmm", "Sure.", true},
		{"case sensitive", "<THINK>shown</THINK>", "shown", true},
		{"stray close before open", "a</think>b<think>c", "ab", true},
		{"plain text", "Just an answer", "Just an answer", true},
		{"only whitespace after span", "<think>x</think>   \n", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, show := Apply(tc.input, false)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantShow, show)
		})
	}
}

func TestApply_ShowReasoningKeepsContent(t *testing.T) {
	got, show := Apply("<think>secret</think>Hello", true)
	assert.True(t, show)
	// The tags themselves are formatting and go away with the markdown pass.
	assert.Equal(t, "secretHello", got)
}

func TestStripReasoning(t *testing.T) {
	assert.Equal(t, "Hello", StripReasoning("  <think>x</think> Hello "))
	assert.Equal(t, "", StripReasoning("<reasoning>unterminated"))
}

// =============================================================================
// MARKDOWN TESTS
// =============================================================================

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"mixed inline", "**bold** and _em_ and `code` and [a](http://x)", "bold and em and code and a"},
		{"underscore bold", "__strong__ words", "strong words"},
		{"star italic", "an *emphasized* word", "an emphasized word"},
		{"headings", "# Title\n## Sub\nbody", "Title\nSub\nbody"},
		{"deep heading", "###### six", "six"},
		{"seven hashes kept", "####### seven", "####### seven"},
		{"fenced code dropped", "```go\nfmt.Println()\n```\nDone", "Done"},
		{"dollar signs", "costs $5 or $x^2$", "costs 5 or x^2"},
		{"html tags", "Price <b>now</b> <?>", "Price now"},
		{"replacement char", "bad�byte", "badbyte"},
		{"control chars", "bell\a and nul\x00 kept\tline\nbreak", "bell and nul kept\tline\nbreak"},
		{"snake case untouched", "use snake_case here", "use snake_case here"},
		{"trim", "  \n padded \n ", "padded"},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.input))
		})
	}
}

func TestApply_Idempotent(t *testing.T) {
	inputs := []string{
		"# Title\n\n**Bold** and *italic* text",
		"Use `go test` and see [docs](https://go.dev).",
		"__under__ and _em_ and snake_case",
		"***both***",
		"Price is $5 <b>now</b>",
		"<think>hidden</think>**Answer:** use `x`",
		"```\ncode\n```\n## Summary\nAll **good** _here_",
		"# # h",
		"[[a](b)](c)",
		"## ### Deep\n[[x](y)](z) end",
	}
	for _, in := range inputs {
		once, _ := Apply(in, false)
		twice, _ := Apply(once, false)
		if once != twice {
			t.Errorf("not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestNormalize_NestedMarkup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"# # h", "h"},
		{"[[a](b)](c)", "a"},
		{"### ## Title\nbody", "Title\nbody"},
		{"**[link](x)**", "link"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

// =============================================================================
// STREAM TESTS
// =============================================================================

func TestStream_MatchesApplyAtEveryStep(t *testing.T) {
	responses := []string{
		"<think>Let me consider.\nOkay.</think>\n\n**Hello** there, *friend*!",
		"Sure<thinking>hmm</thinking> thing <reasoning>because",
		"a < b and <thin but not a tag> end",
		"<think>x</think><think>y</think>z",
		"no tags at all, just `code`",
	}
	for _, resp := range responses {
		for _, size := range []int{1, 2, 3, 7} {
			s := NewStream(false)
			for i := 0; i < len(resp); i += size {
				end := i + size
				if end > len(resp) {
					end = len(resp)
				}
				gotText, gotShow := s.Push(resp[i:end])
				wantText, wantShow := Apply(resp[:end], false)
				if gotText != wantText || gotShow != wantShow {
					t.Fatalf("chunk %d of %q (size %d): stream=%q,%v apply=%q,%v",
						i, resp, size, gotText, gotShow, wantText, wantShow)
				}
			}
			assert.Equal(t, resp, s.Raw())
		}
	}
}

func TestStream_PlaceholderStaysDuringReasoning(t *testing.T) {
	s := NewStream(false)
	tokens := []string{"<think>", "I should ", "greet them", "</think>", "Hi", "!"}
	var shown []string
	for _, tok := range tokens {
		if text, ok := s.Push(tok); ok {
			shown = append(shown, text)
		}
	}
	assert.Equal(t, []string{"Hi", "Hi!"}, shown)
}

func TestStream_PartialOpeningTagAcrossTokens(t *testing.T) {
	s := NewStream(false)
	text, ok := s.Push("Hello <thi")
	assert.True(t, ok)
	assert.Equal(t, "Hello <thi", text)

	text, _ = s.Push("nk>secret")
	assert.Equal(t, "Hello", text)

	text, _ = s.Push("</thi")
	assert.Equal(t, "Hello", text)

	text, _ = s.Push("nk>world")
	assert.Equal(t, "Hello world", text)
}

func TestStream_LongResponse(t *testing.T) {
	s := NewStream(false)
	s.Push("<think>")
	for i := 0; i < 2000; i++ {
		s.Push("lots of reasoning ")
	}
	s.Push("</think>")
	text, ok := s.Push("final")
	assert.True(t, ok)
	assert.Equal(t, "final", text)
	assert.True(t, strings.HasPrefix(s.Raw(), "<think>"))
}
