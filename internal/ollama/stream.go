// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// =============================================================================
// STREAM READER
// =============================================================================

// StreamReader decodes a newline-delimited JSON stream into values of T.
// Empty and malformed lines are skipped.
type StreamReader[T any] struct {
	reader  *bufio.Reader
	lines   int
	skipped int
}

// NewStreamReader creates a stream reader from an io.Reader.
func NewStreamReader[T any](r io.Reader) *StreamReader[T] {
	return &StreamReader[T]{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next decoded value, or io.EOF when the stream ends.
func (s *StreamReader[T]) Next() (T, error) {
	var zero T
	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return zero, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return zero, err
			}
			continue
		}
		s.lines++

		var v T
		if jerr := json.Unmarshal(line, &v); jerr != nil {
			s.skipped++
			if err != nil {
				return zero, err
			}
			continue
		}
		return v, nil
	}
}

// Process calls fn for each value until fn reports done, the stream ends
// or ctx is cancelled. A stream that ends before fn reports done returns
// io.ErrUnexpectedEOF.
func (s *StreamReader[T]) Process(ctx context.Context, fn func(T) (done bool, err error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := s.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		done, err := fn(v)
		if err != nil || done {
			return err
		}
	}
}

// Lines returns the number of non-empty lines read.
func (s *StreamReader[T]) Lines() int {
	return s.lines
}

// Skipped returns the number of lines that failed to decode.
func (s *StreamReader[T]) Skipped() int {
	return s.skipped
}

// =============================================================================
// STREAM STATISTICS
// =============================================================================

// StreamStats holds timing collected while a reply streams.
type StreamStats struct {
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	PromptTokens     int
	CompletionTokens int

	TTFT            time.Duration
	TokensPerSecond float64
}

// NewStreamStats creates a StreamStats with the start time set.
func NewStreamStats() *StreamStats {
	return &StreamStats{StartTime: time.Now()}
}

// RecordFirstToken marks the arrival of the first fragment.
func (s *StreamStats) RecordFirstToken() {
	if s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}
}

// Finalize copies counters from the final chunk.
func (s *StreamStats) Finalize(chunk ChatChunk) {
	s.EndTime = time.Now()
	s.PromptTokens = chunk.PromptEvalCount
	s.CompletionTokens = chunk.EvalCount
	s.TokensPerSecond = chunk.TokensPerSecond()
}

// Format returns a one-line summary.
func (s *StreamStats) Format() string {
	return fmt.Sprintf("%s | %d tokens | %.1f tok/s | TTFT %dms",
		s.EndTime.Sub(s.StartTime).Round(time.Millisecond),
		s.CompletionTokens, s.TokensPerSecond, s.TTFT.Milliseconds())
}
