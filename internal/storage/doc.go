// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage archives cleared conversations in a local SQLite database.
//
// # Key Types
//
//   - Archive: the database handle
//   - Conversation: an archived conversation with its messages
//   - ConversationMeta: lightweight metadata for listing
//
// # Usage
//
//	archive, err := storage.Open(filepath.Join(dataDir, "history.db"))
//	defer archive.Close()
//
//	id, err := archive.Archive(ctx, "qwen3-0.6", messages)
//	metas, err := archive.List(ctx, 20)
//	conv, err := archive.Get(ctx, metas[0].ID)
//
// Only finished user and assistant messages are stored; system notices and
// placeholders are dropped.
package storage
