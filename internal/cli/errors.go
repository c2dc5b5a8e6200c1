// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/offchat/internal/config"
	"github.com/jeranaias/offchat/internal/lifecycle"
	"github.com/jeranaias/offchat/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	// ExitUsageError is bad arguments or flags.
	ExitUsageError = 2
	// ExitConfigError is an unreadable or invalid configuration.
	ExitConfigError = 3
	// ExitEngineError is an engine that failed to load or generate.
	ExitEngineError = 5
	// ExitNotFoundError is a missing conversation or file.
	ExitNotFoundError = 7
	// ExitInterrupted is Ctrl+C.
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError is invalid command input.
type UsageError struct {
	Arg     string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Arg, e.Reason)
	if e.Example != "" {
		msg += "\nExample: " + e.Example
	}
	return msg
}

// NotFoundError is a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConfigError wraps a configuration failure.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as a JSON response in JSON mode.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		_ = NewJSONErrorResponse(command, err).Write(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

// errorType names err for JSON consumers.
func errorType(err error) string {
	var (
		usage    *UsageError
		notFound *NotFoundError
		cfg      *ConfigError
	)
	switch {
	case errors.As(err, &usage):
		return "usage_error"
	case errors.As(err, &notFound), errors.Is(err, storage.ErrConversationNotFound):
		return "not_found_error"
	case errors.As(err, &cfg):
		return "config_error"
	case errors.Is(err, context.Canceled):
		return "interrupted"
	default:
		return "generic_error"
	}
}

// GetExitCode maps err to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		usage    *UsageError
		notFound *NotFoundError
		cfg      *ConfigError
		invalid  config.ValidationErrors
	)
	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &notFound), errors.Is(err, storage.ErrConversationNotFound):
		return ExitNotFoundError
	case errors.As(err, &cfg), errors.As(err, &invalid):
		return ExitConfigError
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.Is(err, lifecycle.ErrEngineNotReady),
		errors.Is(err, lifecycle.ErrEngineInitFailed),
		errors.Is(err, lifecycle.ErrEngineDownloadFailed),
		errors.Is(err, lifecycle.ErrGenerationFailed),
		errors.Is(err, lifecycle.ErrTranscriptionFailed),
		errors.Is(err, lifecycle.ErrStorageInsufficient):
		return ExitEngineError
	}
	return ExitGeneralError
}

// errorDetails is the data payload of a JSON error response.
func errorDetails(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error_type": errorType(err)})
	return b
}
