// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerAggregates(t *testing.T) {
	tr := NewTracker(nil)
	tr.RecordGeneration(Generation{ModelID: "m", Fragments: 10, Duration: 2 * time.Second})
	tr.RecordGeneration(Generation{ModelID: "m", Fragments: 4, Duration: 4 * time.Second, Failed: true})
	tr.RecordTranscription(true)
	tr.RecordTranscription(false)

	u := tr.Current()
	assert.Equal(t, 2, u.Generations)
	assert.Equal(t, 1, u.FailedGenerations)
	assert.Equal(t, 14, u.Fragments)
	assert.Equal(t, 3*time.Second, u.AverageDuration())
	assert.Equal(t, 2, u.Transcriptions)
	assert.Equal(t, 1, u.FailedTranscriptions)
	assert.Len(t, u.Recent, 2)
	assert.False(t, u.Recent[0].Timestamp.IsZero())
}

func TestTrackerKeepsRecentBounded(t *testing.T) {
	tr := NewTracker(nil)
	for i := 0; i < maxRecent+5; i++ {
		tr.RecordGeneration(Generation{Prompt: strings.Repeat("p", 80)})
	}
	u := tr.Current()
	assert.Len(t, u.Recent, maxRecent)
	assert.Equal(t, 50, len([]rune(u.Recent[0].Prompt)))
}

func TestCurrentIsACopy(t *testing.T) {
	tr := NewTracker(nil)
	tr.RecordGeneration(Generation{Fragments: 1})
	u := tr.Current()
	u.Recent[0].Fragments = 99
	assert.Equal(t, 1, tr.Current().Recent[0].Fragments)
}

func TestStorageRoundTripAndTotals(t *testing.T) {
	st, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	tr := NewTracker(st)
	tr.RecordGeneration(Generation{Fragments: 3, Duration: time.Second})
	require.NoError(t, tr.EndSession())

	ids, err := st.List()
	require.NoError(t, err)
	require.Len(t, ids, 1)

	loaded, err := st.Load(ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Generations)
	assert.False(t, loaded.EndTime.IsZero())

	total, err := st.Totals()
	require.NoError(t, err)
	assert.Equal(t, 3, total.Fragments)
}

func TestNewStorageRejectsEmptyDir(t *testing.T) {
	_, err := NewStorage("")
	assert.Error(t, err)
}
