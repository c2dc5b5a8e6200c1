// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/offchat/internal/model"
)

func openTest(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func conversation(user, reply string) []model.Message {
	u := model.NewUserMessage(user, "notes.txt")
	r := model.NewAssistantMessage(reply)
	return []model.Message{
		model.NewSystemMessage("Chat cleared. Start a new conversation!"),
		u,
		r,
		model.NewPlaceholder(),
	}
}

func TestArchiveAndGet(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	id, err := a.Archive(ctx, "qwen3-0.6", conversation("What is Go?", "A programming language."))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	conv, err := a.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "What is Go?", conv.Title)
	assert.Equal(t, "qwen3-0.6", conv.ModelID)
	require.Len(t, conv.Messages, 2, "system messages and placeholders are not archived")
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, []string{"notes.txt"}, conv.Messages[0].Attachments)
	assert.Equal(t, "A programming language.", conv.Messages[1].Content)
	assert.Equal(t, 1, conv.UserMessages())
}

func TestArchive_NothingToKeep(t *testing.T) {
	a := openTest(t)
	_, err := a.Archive(context.Background(), "m", []model.Message{model.NewSystemMessage("hi")})
	assert.ErrorIs(t, err, ErrNothingToArchive)
}

func TestListNewestFirstWithLimit(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, q := range []string{"first", "second", "third"} {
		at := base.Add(time.Duration(i) * time.Minute)
		a.now = func() time.Time { return at }
		_, err := a.Archive(ctx, "m", conversation(q, "ok"))
		require.NoError(t, err)
	}

	metas, err := a.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "third", metas[0].Title)
	assert.Equal(t, "second", metas[1].Title)
	assert.Equal(t, 2, metas[0].MessageCount)

	all, err := a.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSearch(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	_, err := a.Archive(ctx, "m", conversation("weather today", "Sunny with 100% chance"))
	require.NoError(t, err)
	_, err = a.Archive(ctx, "m", conversation("recipe", "Use flour"))
	require.NoError(t, err)

	hits, err := a.Search(ctx, "SUNNY")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "weather today", hits[0].Title)

	hits, err = a.Search(ctx, "100%")
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = a.Search(ctx, "nothing like this")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGetByPrefixAndDelete(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	id, err := a.Archive(ctx, "m", conversation("hello", "hi"))
	require.NoError(t, err)

	conv, err := a.Get(ctx, id[:8])
	require.NoError(t, err)
	assert.Equal(t, id, conv.ID)

	require.NoError(t, a.Delete(ctx, id))
	_, err = a.Get(ctx, id)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.ErrorIs(t, a.Delete(ctx, id), ErrConversationNotFound)
	_, err = a.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	a, err := Open(path)
	require.NoError(t, err)
	id, err := a.Archive(context.Background(), "m", conversation("persist me", "ok"))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()
	conv, err := b.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "persist me", conv.Title)
}

func TestFormatAndExport(t *testing.T) {
	assert.Equal(t, "No archived conversations.", FormatList(nil))

	a := openTest(t)
	ctx := context.Background()
	id, err := a.Archive(ctx, "qwen3-0.6", conversation("format me", "done"))
	require.NoError(t, err)

	metas, err := a.List(ctx, 0)
	require.NoError(t, err)
	out := FormatList(metas)
	assert.Contains(t, out, id[:8])
	assert.Contains(t, out, "format me")

	conv, err := a.Get(ctx, id)
	require.NoError(t, err)
	md := conv.ExportMarkdown()
	assert.Contains(t, md, "# format me")
	assert.Contains(t, md, "**You**")
	assert.Contains(t, md, "Attachment: notes.txt")

	data, err := conv.ExportJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"model_id": "qwen3-0.6"`)
}
