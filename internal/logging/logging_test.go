// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FileGetsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "offchat.log")
	logger, closer, err := New(Options{Level: "debug", File: path})
	require.NoError(t, err)

	logger.Debug().Str("component", "test").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "test", entry["component"])
}

func TestNew_ConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Level: "WARN", Stderr: &buf})
	require.NoError(t, err)

	logger.Info().Msg("quiet")
	logger.Warn().Msg("loud")
	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func TestNew_DefaultLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Options{Stderr: &buf})
	require.NoError(t, err)
	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "shouty"})
	assert.Error(t, err)
}
