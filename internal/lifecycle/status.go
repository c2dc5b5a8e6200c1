// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package lifecycle owns the state machines of the language model and speech
// engines: download, load, readiness, generation and transcription.
//
// Each controller publishes a StatusUpdate stream. Errors returned by
// controllers are *Error values classified by one of the Err* kinds, so
// callers can branch with errors.Is while the engine cause stays reachable.
package lifecycle

import (
	"fmt"
	"strings"
)

// Status is the coarse readiness of an engine.
type Status int

const (
	StatusUninitialized Status = iota
	StatusDownloading
	StatusLoading
	StatusReady
	StatusGenerating
	StatusRecording
	StatusTranscribing
	StatusError
)

var statusNames = [...]string{
	StatusUninitialized: "UNINITIALIZED",
	StatusDownloading:   "DOWNLOADING",
	StatusLoading:       "LOADING",
	StatusReady:         "READY",
	StatusGenerating:    "GENERATING",
	StatusRecording:     "RECORDING",
	StatusTranscribing:  "TRANSCRIBING",
	StatusError:         "ERROR",
}

// String returns the upper-case status name.
func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	name := strings.ToUpper(string(b))
	for i, n := range statusNames {
		if n == name {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// Busy reports whether the engine is in the middle of an operation.
func (s Status) Busy() bool {
	switch s {
	case StatusDownloading, StatusLoading, StatusGenerating, StatusRecording, StatusTranscribing:
		return true
	}
	return false
}

// StatusUpdate pairs a status with a human-readable message.
type StatusUpdate struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}
