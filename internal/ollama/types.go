// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"encoding/json"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ChatRequest is the request body for /api/chat.
type ChatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	Options   *Options  `json:"options,omitempty"`
	KeepAlive string    `json:"keep_alive,omitempty"`
}

// Options contains runner and sampling parameters.
type Options struct {
	// Temperature is a pointer so that 0 is sent rather than omitted.
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"` // max tokens to generate

	NumCtx    int  `json:"num_ctx,omitempty"`
	NumGPU    *int `json:"num_gpu,omitempty"` // -1 offloads every layer
	NumThread int  `json:"num_thread,omitempty"`
}

// LoadRequest is an /api/generate call with no prompt. Ollama loads the
// model and keeps it resident for KeepAlive; a KeepAlive of 0 unloads it.
type LoadRequest struct {
	Model     string   `json:"model"`
	Stream    bool     `json:"stream"`
	Options   *Options `json:"options,omitempty"`
	KeepAlive any      `json:"keep_alive,omitempty"`
}

// PullRequest is the request body for /api/pull.
type PullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// ShowModelRequest is the request for /api/show.
type ShowModelRequest struct {
	Model string `json:"model"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatChunk is one line of a streamed /api/chat response.
type ChatChunk struct {
	Model           string    `json:"model"`
	CreatedAt       time.Time `json:"created_at"`
	Message         Message   `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason,omitempty"`
	TotalDuration   int64     `json:"total_duration,omitempty"`
	LoadDuration    int64     `json:"load_duration,omitempty"`
	PromptEvalCount int       `json:"prompt_eval_count,omitempty"`
	EvalCount       int       `json:"eval_count,omitempty"`
	EvalDuration    int64     `json:"eval_duration,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// PullProgress is one line of a streamed /api/pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Fraction returns the completed share of the current layer, or -1 when the
// line carries no byte counts.
func (p PullProgress) Fraction() float64 {
	if p.Total <= 0 {
		return -1
	}
	f := float64(p.Completed) / float64(p.Total)
	if f > 1 {
		f = 1
	}
	return f
}

// ModelInfo describes a locally installed model.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ShowModelResponse is the response from /api/show.
type ShowModelResponse struct {
	Parameters string          `json:"parameters"`
	Template   string          `json:"template"`
	Details    ModelDetails    `json:"details"`
	ModelInfo  json.RawMessage `json:"model_info,omitempty"`
}

// APIError is the error body Ollama returns.
type APIError struct {
	Error string `json:"error"`
}

// TokensPerSecond calculates the generation speed of a final chunk.
func (c *ChatChunk) TokensPerSecond() float64 {
	if c.EvalDuration == 0 {
		return 0
	}
	return float64(c.EvalCount) / (float64(c.EvalDuration) / 1e9)
}
