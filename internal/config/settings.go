// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/util"
)

// =============================================================================
// SETTINGS FILE
// =============================================================================

// SettingsFile stores chat settings as TOML. It remembers the last value it
// read or wrote so a watcher can tell external edits from its own saves.
type SettingsFile struct {
	path string

	mu   sync.Mutex
	last model.Settings
}

// NewSettingsFile creates a store for path.
func NewSettingsFile(path string) *SettingsFile {
	return &SettingsFile{path: path}
}

// Path returns the file path.
func (f *SettingsFile) Path() string {
	return f.path
}

// Load reads the settings. A missing file yields the defaults; missing keys
// are filled from the defaults.
func (f *SettingsFile) Load() (model.Settings, error) {
	s, err := f.read()
	if err != nil {
		return model.Settings{}, err
	}
	f.mu.Lock()
	f.last = s
	f.mu.Unlock()
	return s, nil
}

// Reload reads the settings and reports whether they differ from the last
// value loaded or saved.
func (f *SettingsFile) Reload() (model.Settings, bool, error) {
	s, err := f.read()
	if err != nil {
		return model.Settings{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := s != f.last
	f.last = s
	return s, changed, nil
}

// Save writes the settings atomically with 0600 permissions.
func (f *SettingsFile) Save(s model.Settings) error {
	var buf bytes.Buffer
	buf.WriteString("# offchat chat settings\n\n")
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := util.AtomicWriteFile(f.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	f.last = s
	return nil
}

// Reset overwrites the file with the defaults.
func (f *SettingsFile) Reset() error {
	return f.Save(model.DefaultSettings())
}

func (f *SettingsFile) read() (model.Settings, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.DefaultSettings(), nil
	}
	if err != nil {
		return model.Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	// Decode over the defaults so absent keys, including booleans and
	// gpu_layers, keep their default values.
	s := model.DefaultSettings()
	if _, err := toml.Decode(string(data), &s); err != nil {
		return model.Settings{}, fmt.Errorf("failed to decode %s: %w", f.path, err)
	}
	return s.WithDefaults(), nil
}
