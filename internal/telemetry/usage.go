// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"sync"
	"time"

	"github.com/jeranaias/offchat/internal/util"
)

// =============================================================================
// USAGE TRACKER
// =============================================================================

// maxRecent is how many generation records a session keeps.
const maxRecent = 20

// Generation describes one finished reply.
type Generation struct {
	Timestamp time.Time     `json:"timestamp"`
	ModelID   string        `json:"model_id"`
	Prompt    string        `json:"prompt"` // first 50 runes
	Fragments int           `json:"fragments"`
	Chars     int           `json:"chars"`
	TTFT      time.Duration `json:"ttft"`
	Duration  time.Duration `json:"duration"`
	Failed    bool          `json:"failed"`
}

// SessionUsage is the aggregate for one run of the program.
type SessionUsage struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`

	Generations       int           `json:"generations"`
	FailedGenerations int           `json:"failed_generations"`
	Fragments         int           `json:"fragments"`
	GenerationTime    time.Duration `json:"generation_time"`

	Transcriptions       int `json:"transcriptions"`
	FailedTranscriptions int `json:"failed_transcriptions"`

	Recent []Generation `json:"recent"`
}

// AverageDuration returns the mean generation time.
func (s *SessionUsage) AverageDuration() time.Duration {
	if s.Generations == 0 {
		return 0
	}
	return s.GenerationTime / time.Duration(s.Generations)
}

// Tracker accumulates usage for the current session. It is safe for
// concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	current *SessionUsage
	storage *Storage
	now     func() time.Time
}

// NewTracker creates a tracker. storage may be nil to keep stats in memory.
func NewTracker(storage *Storage) *Tracker {
	now := time.Now()
	return &Tracker{
		current: &SessionUsage{ID: sessionID(now), StartTime: now},
		storage: storage,
		now:     time.Now,
	}
}

// RecordGeneration adds a finished reply.
func (t *Tracker) RecordGeneration(g Generation) {
	if g.Timestamp.IsZero() {
		g.Timestamp = t.now()
	}
	g.Prompt = util.Preview(g.Prompt, 50)

	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.current
	s.Generations++
	if g.Failed {
		s.FailedGenerations++
	}
	s.Fragments += g.Fragments
	s.GenerationTime += g.Duration

	s.Recent = append(s.Recent, g)
	if len(s.Recent) > maxRecent {
		s.Recent = append([]Generation(nil), s.Recent[len(s.Recent)-maxRecent:]...)
	}
}

// RecordTranscription adds one voice capture outcome.
func (t *Tracker) RecordTranscription(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Transcriptions++
	if !ok {
		t.current.FailedTranscriptions++
	}
}

// Current returns a copy of the current session's usage.
func (t *Tracker) Current() SessionUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := *t.current
	cp.Recent = append([]Generation(nil), t.current.Recent...)
	return cp
}

// EndSession stamps the end time and persists the session if storage is
// configured.
func (t *Tracker) EndSession() error {
	t.mu.Lock()
	t.current.EndTime = t.now()
	t.mu.Unlock()

	if t.storage == nil {
		return nil
	}
	s := t.Current()
	return t.storage.Save(&s)
}

func sessionID(at time.Time) string {
	return at.Format("20060102-150405.000000")
}
