// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package lifecycle

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

var (
	// ErrStorageInsufficient means the pre-flight disk check failed.
	ErrStorageInsufficient = errors.New("insufficient storage")

	// ErrEngineDownloadFailed means the model could not be fetched.
	ErrEngineDownloadFailed = errors.New("engine download failed")

	// ErrEngineInitFailed means the model could not be loaded.
	ErrEngineInitFailed = errors.New("engine initialization failed")

	// ErrEngineNotReady means an operation was attempted out of sequence.
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrGenerationFailed means generation failed mid-stream.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrTranscriptionFailed means the speech engine produced no usable text.
	ErrTranscriptionFailed = errors.New("transcription failed")

	// ErrUnloaded is the cause of an initialization that an unload
	// overtook. It is reported with kind ErrEngineInitFailed.
	ErrUnloaded = errors.New("unloaded during initialization")
)

// Engine names used in errors and logs.
const (
	EngineModel  = "model"
	EngineSpeech = "speech"
)

// Error is returned by the controllers. Kind is one of the Err* sentinels.
type Error struct {
	Kind    error
	Engine  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// EngineFault reports whether the engine itself raised the error, as opposed
// to completing with an unusable result.
func (e *Error) EngineFault() bool {
	return e.Cause != nil
}

// Reason returns the message without the kind prefix, suitable for users.
func (e *Error) Reason() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func newError(kind error, engine, message string, cause error) *Error {
	return &Error{Kind: kind, Engine: engine, Message: message, Cause: cause}
}

// Reason extracts a user-facing reason from any error.
func Reason(err error) string {
	var le *Error
	if errors.As(err, &le) {
		return le.Reason()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
