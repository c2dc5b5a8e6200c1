// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the program's zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configure New.
type Options struct {
	// Level is a zerolog level name; empty means info.
	Level string

	// File receives JSON lines. "-" or "" writes console output to Stderr.
	File string

	// Console also writes human-readable output to Stderr when File is set.
	Console bool

	// Stderr defaults to os.Stderr.
	Stderr io.Writer
}

// New returns a logger and a closer for its file. The closer is never nil.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil {
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("log level: %w", err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: stderr, TimeFormat: "15:04:05"}

	var (
		out    io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" && opts.File != "-" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("failed to open log file: %w", err)
		}
		out, closer = f, f
		if opts.Console {
			out = zerolog.MultiLevelWriter(f, console)
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
