// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/offchat/internal/model"
)

func ids(s Snapshot) []string {
	out := make([]string, len(s.Messages))
	for i, m := range s.Messages {
		out[i] = m.ID
	}
	return out
}

func TestAppendAndOrder(t *testing.T) {
	tr := New()
	a := model.NewUserMessage("a")
	b := model.NewAssistantMessage("b")
	require.NoError(t, tr.Append(a))
	require.NoError(t, tr.Append(b))

	snap := tr.Snapshot()
	assert.Equal(t, []string{a.ID, b.ID}, ids(snap))
	assert.Equal(t, uint64(2), snap.Version)
}

func TestAppendDuplicateID(t *testing.T) {
	tr := New()
	a := model.NewUserMessage("a")
	require.NoError(t, tr.Append(a))
	assert.ErrorIs(t, tr.Append(a), ErrDuplicateID)
	assert.Equal(t, 1, tr.Len())
}

func TestSecondPlaceholderRejected(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Append(model.NewPlaceholder()))
	assert.ErrorIs(t, tr.Append(model.NewPlaceholder()), ErrStreamingActive)
	assert.ErrorIs(t, tr.InsertBefore(model.NewPlaceholder(), "missing"), ErrStreamingActive)
	assert.Equal(t, 1, tr.Len())
}

func TestSnapshotsAreImmutable(t *testing.T) {
	tr := New()
	ph := model.NewPlaceholder()
	require.NoError(t, tr.Append(ph))
	before := tr.Snapshot()

	tr.ReplaceContent(ph.ID, "hello")
	after := tr.Snapshot()

	assert.Equal(t, "", before.Messages[0].Content)
	assert.Equal(t, model.KindPlaceholder, before.Messages[0].Kind)
	assert.Equal(t, "hello", after.Messages[0].Content)
	assert.Equal(t, model.KindText, after.Messages[0].Kind)
}

func TestReplaceContentAndComplete(t *testing.T) {
	tr := New()
	ph := model.NewPlaceholder()
	require.NoError(t, tr.Append(ph))

	assert.True(t, tr.ReplaceContent(ph.ID, "partial"))
	assert.True(t, tr.ReplaceContent(ph.ID, "partial answer"))
	assert.True(t, tr.CompleteStreaming(ph.ID))

	got, ok := tr.Snapshot().Get(ph.ID)
	require.True(t, ok)
	assert.Equal(t, "partial answer", got.Content)
	assert.False(t, got.Streaming)

	_, active := tr.Snapshot().ActivePlaceholder()
	assert.False(t, active)
}

func TestAbsentIDIsNoop(t *testing.T) {
	tr := New()
	ph := model.NewPlaceholder()
	require.NoError(t, tr.Append(model.NewUserMessage("q")))
	require.NoError(t, tr.Append(ph))
	require.True(t, tr.RemoveByID(ph.ID))

	before := tr.Snapshot()
	assert.False(t, tr.ReplaceContent(ph.ID, "late token"))
	assert.False(t, tr.CompleteStreaming(ph.ID))
	assert.False(t, tr.RemoveByID(ph.ID))
	after := tr.Snapshot()

	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Messages, after.Messages)
}

func TestInsertBefore(t *testing.T) {
	tr := New()
	first := model.NewUserMessage("first")
	ph := model.NewPlaceholder()
	require.NoError(t, tr.Append(first))
	require.NoError(t, tr.Append(ph))

	spoken := model.NewUserMessage("hello world")
	require.NoError(t, tr.InsertBefore(spoken, ph.ID))
	assert.Equal(t, []string{first.ID, spoken.ID, ph.ID}, ids(tr.Snapshot()))
}

func TestInsertBeforeMissingAppends(t *testing.T) {
	tr := New()
	first := model.NewUserMessage("first")
	require.NoError(t, tr.Append(first))

	msg := model.NewUserMessage("second")
	require.NoError(t, tr.InsertBefore(msg, "gone"))
	assert.Equal(t, []string{first.ID, msg.ID}, ids(tr.Snapshot()))
}

func TestRemoveLast(t *testing.T) {
	tr := New()
	_, ok := tr.RemoveLast()
	assert.False(t, ok)

	a := model.NewUserMessage("a")
	b := model.NewSystemMessage("b")
	require.NoError(t, tr.Append(a))
	require.NoError(t, tr.Append(b))

	got, ok := tr.RemoveLast()
	require.True(t, ok)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, []string{a.ID}, ids(tr.Snapshot()))
}

func TestFindLast(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Append(model.NewSystemMessage("s1")))
	u := model.NewUserMessage("u")
	require.NoError(t, tr.Append(u))
	s2 := model.NewSystemMessage("s2")
	require.NoError(t, tr.Append(s2))

	got, ok := tr.FindLast(func(m model.Message) bool { return m.Role == model.RoleSystem })
	require.True(t, ok)
	assert.Equal(t, s2.ID, got.ID)

	_, ok = tr.FindLast(func(m model.Message) bool { return m.Role == model.RoleAssistant })
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Append(model.NewUserMessage("a")))
	tr.Clear()
	assert.Equal(t, 0, tr.Snapshot().Len())
	require.NoError(t, tr.Append(model.NewPlaceholder()))
}

func TestSnapshotFilter(t *testing.T) {
	tr := New()
	require.NoError(t, tr.Append(model.NewSystemMessage("sys")))
	u := model.NewUserMessage("u")
	require.NoError(t, tr.Append(u))
	require.NoError(t, tr.Append(model.NewPlaceholder()))

	ctx := tr.Snapshot().Filter(func(m model.Message) bool {
		return m.Role != model.RoleSystem && !m.Streaming
	})
	require.Len(t, ctx, 1)
	assert.Equal(t, u.ID, ctx[0].ID)
}

func TestUpdatesPublished(t *testing.T) {
	tr := New()
	ch, cancel := tr.Updates().Subscribe()
	defer cancel()
	<-ch

	require.NoError(t, tr.Append(model.NewUserMessage("a")))
	snap := <-ch
	assert.Equal(t, 1, snap.Len())
}

// TestRandomOpsKeepSinglePlaceholder drives random mutations and checks that
// no observed snapshot ever holds two streaming assistant messages.
func TestRandomOpsKeepSinglePlaceholder(t *testing.T) {
	tr := New()
	rng := rand.New(rand.NewSource(42))
	var known []string

	ch, cancel := tr.Updates().Subscribe()
	defer cancel()
	var wg sync.WaitGroup
	violations := 0
	wg.Add(1)
	go func() {
		defer wg.Done()
		for snap := range ch {
			active := 0
			for _, m := range snap.Messages {
				if m.IsActivePlaceholder() {
					active++
				}
			}
			if active > 1 {
				violations++
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		var target string
		if len(known) > 0 {
			target = known[rng.Intn(len(known))]
		}
		switch rng.Intn(7) {
		case 0:
			m := model.NewUserMessage("u")
			known = append(known, m.ID)
			_ = tr.Append(m)
		case 1:
			m := model.NewPlaceholder()
			known = append(known, m.ID)
			_ = tr.Append(m)
		case 2:
			m := model.NewPlaceholder()
			known = append(known, m.ID)
			_ = tr.InsertBefore(m, target)
		case 3:
			tr.ReplaceContent(target, "x")
		case 4:
			tr.CompleteStreaming(target)
		case 5:
			tr.RemoveByID(target)
		case 6:
			tr.RemoveLast()
		}

		active := 0
		for _, m := range tr.Snapshot().Messages {
			if m.IsActivePlaceholder() {
				active++
			}
		}
		if active > 1 {
			t.Fatalf("step %d: %d active placeholders", i, active)
		}
	}

	cancel()
	wg.Wait()
	assert.Zero(t, violations)
}
