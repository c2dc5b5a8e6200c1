// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/jeranaias/offchat/internal/model"
)

// =============================================================================
// SETTINGS WATCHER
// =============================================================================

// DefaultDebounce is the quiet period before an edited file is reloaded.
const DefaultDebounce = 300 * time.Millisecond

// WatchSettings calls onChange whenever the settings file is changed on disk
// by someone other than the SettingsFile itself. The directory is watched
// rather than the file so editors that replace the file by rename are
// handled. Invalid files are logged and skipped. It blocks until ctx is
// done.
func WatchSettings(ctx context.Context, file *SettingsFile, debounce time.Duration, logger zerolog.Logger, onChange func(model.Settings)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	log := logger.With().Str("component", "settings-watch").Logger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(file.Path())
	if err := watcher.Add(dir); err != nil {
		return err
	}
	name := filepath.Base(file.Path())

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watch error")

		case <-timer.C:
			s, changed, err := file.Reload()
			if err != nil {
				log.Warn().Err(err).Msg("ignoring unreadable settings file")
				continue
			}
			if !changed {
				continue
			}
			if err := s.Validate(); err != nil {
				log.Warn().Err(err).Msg("ignoring invalid settings file")
				continue
			}
			log.Info().Msg("settings changed on disk")
			onChange(s)
		}
	}
}
