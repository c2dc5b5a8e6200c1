// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jeranaias/offchat/internal/util"
)

// =============================================================================
// USAGE STORAGE
// =============================================================================

// Storage persists session usage as one JSON file per session.
type Storage struct {
	dir string
}

// NewStorage creates a storage rooted at dir.
func NewStorage(dir string) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("usage storage: empty directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("usage storage: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// Save writes a session.
func (s *Storage) Save(usage *SessionUsage) error {
	if usage == nil {
		return nil
	}
	data, err := json.MarshalIndent(usage, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(filepath.Join(s.dir, usage.ID+".json"), data, 0o600)
}

// Load reads a session by ID.
func (s *Storage) Load(id string) (*SessionUsage, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		return nil, err
	}
	var usage SessionUsage
	if err := json.Unmarshal(data, &usage); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &usage, nil
}

// List returns saved session IDs, oldest first. IDs are timestamps, so
// lexical order is chronological.
func (s *Storage) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Totals sums every saved session.
func (s *Storage) Totals() (SessionUsage, error) {
	ids, err := s.List()
	if err != nil {
		return SessionUsage{}, err
	}
	var total SessionUsage
	for _, id := range ids {
		u, err := s.Load(id)
		if err != nil {
			continue
		}
		if total.StartTime.IsZero() || u.StartTime.Before(total.StartTime) {
			total.StartTime = u.StartTime
		}
		total.Generations += u.Generations
		total.FailedGenerations += u.FailedGenerations
		total.Fragments += u.Fragments
		total.GenerationTime += u.GenerationTime
		total.Transcriptions += u.Transcriptions
		total.FailedTranscriptions += u.FailedTranscriptions
	}
	return total, nil
}
