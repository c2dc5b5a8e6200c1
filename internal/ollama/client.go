// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches any ClientError of the same Type, so the sentinels below work
// with errors.Is.
func (e *ClientError) Is(target error) bool {
	var t *ClientError
	if errors.As(target, &t) {
		return t.Type == e.Type && t.Message == e.Message
	}
	return false
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypeServer
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultBaseURL uses an explicit IPv4 address to avoid IPv6 resolution of
// localhost on some Windows hosts.
const DefaultBaseURL = "http://127.0.0.1:11434"

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: DefaultBaseURL)
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// LoadTimeout bounds loading a model into memory (default: 5m)
	LoadTimeout time.Duration

	// StartIfNeeded launches `ollama serve` when the server is not reachable.
	StartIfNeeded bool

	// StartupWait is how long to poll a freshly started server (default: 10s)
	StartupWait time.Duration

	Logger zerolog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:       DefaultBaseURL,
		Timeout:       30 * time.Second,
		LoadTimeout:   5 * time.Minute,
		StartIfNeeded: true,
		StartupWait:   10 * time.Second,
		Logger:        zerolog.Nop(),
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	// streamClient has no overall timeout; streams are bounded by ctx.
	streamClient *http.Client
	log          zerolog.Logger
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.LoadTimeout == 0 {
		config.LoadTimeout = 5 * time.Minute
	}
	if config.StartupWait == 0 {
		config.StartupWait = 10 * time.Second
	}

	return &Client{
		config:       config,
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{},
		log:          config.Logger.With().Str("component", "ollama").Logger(),
	}
}

// Config returns the client configuration.
func (c *Client) Config() *ClientConfig {
	return c.config
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}
	return nil
}

// EnsureRunning checks if Ollama is running, and starts it if allowed.
// The start logic is platform-specific (see start_unix.go and start_windows.go).
func (c *Client) EnsureRunning(ctx context.Context) error {
	err := c.CheckRunning(ctx)
	if err == nil || !c.config.StartIfNeeded || !IsNotRunning(err) {
		return err
	}
	return c.startOllamaProcess(ctx)
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves the locally installed models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result ListModelsResponse
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, "/api/tags", nil, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// ShowModel retrieves information about an installed model.
func (c *Client) ShowModel(ctx context.Context, model string) (*ShowModelResponse, error) {
	var result ShowModelResponse
	if err := c.doJSON(ctx, c.httpClient, http.MethodPost, "/api/show", ShowModelRequest{Model: model}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ModelExists reports whether model is installed locally.
func (c *Client) ModelExists(ctx context.Context, model string) bool {
	_, err := c.ShowModel(ctx, model)
	return err == nil
}

// Pull downloads model, calling onProgress for each progress line. Pulling
// an already installed model only verifies its manifest.
func (c *Client) Pull(ctx context.Context, model string, onProgress func(PullProgress)) error {
	resp, err := c.send(ctx, c.streamClient, http.MethodPost, "/api/pull", PullRequest{Model: model, Stream: true})
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	reader := NewStreamReader[PullProgress](resp.Body)
	return reader.Process(ctx, func(p PullProgress) (bool, error) {
		if p.Error != "" {
			return true, &ClientError{Type: ErrTypeServer, Message: p.Error}
		}
		if onProgress != nil {
			onProgress(p)
		}
		return p.Status == "success", nil
	})
}

// Load brings model into memory with the given runner options and keeps it
// resident for keepAlive (e.g. "30m", "-1" for forever).
func (c *Client) Load(ctx context.Context, model string, opts *Options, keepAlive string) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.LoadTimeout)
	defer cancel()

	req := LoadRequest{Model: model, Options: opts}
	if keepAlive != "" {
		req.KeepAlive = keepAlive
	}
	return c.doJSON(ctx, c.streamClient, http.MethodPost, "/api/generate", req, nil)
}

// Unload evicts model from memory.
func (c *Client) Unload(ctx context.Context, model string) error {
	return c.doJSON(ctx, c.httpClient, http.MethodPost, "/api/generate", LoadRequest{Model: model, KeepAlive: 0}, nil)
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream sends a streaming chat request and calls fn for each chunk in
// the order received. It returns when the final chunk arrives, the stream
// fails or ctx is cancelled.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, fn func(ChatChunk)) error {
	req.Stream = true
	resp, err := c.send(ctx, c.streamClient, http.MethodPost, "/api/chat", req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	reader := NewStreamReader[ChatChunk](resp.Body)
	return reader.Process(ctx, func(chunk ChatChunk) (bool, error) {
		if chunk.Error != "" {
			return true, &ClientError{Type: ErrTypeServer, Message: chunk.Error}
		}
		fn(chunk)
		return chunk.Done, nil
	})
}

// =============================================================================
// TRANSPORT
// =============================================================================

// send issues a request and maps transport and status failures to
// ClientErrors. The caller closes the body on success.
func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, rd)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return nil, ctxErr
		}
		return nil, transportError(err)
	}

	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrModelNotFound
	}
	var apiErr APIError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return nil, &ClientError{Type: ErrTypeServer, Message: apiErr.Error}
	}
	return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: path + " failed: " + resp.Status}
}

func (c *Client) doJSON(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	resp, err := c.send(ctx, hc, method, path, body)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running", Cause: err}
}

// =============================================================================
// UTILITY
// =============================================================================

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return hasType(err, ErrTypeModelNotFound)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return hasType(err, ErrTypeNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return hasType(err, ErrTypeTimeout)
}

func hasType(err error, t ErrorType) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr) && clientErr.Type == t
}

func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, r)
	_ = r.Close()
}
