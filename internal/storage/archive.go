// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/offchat/internal/model"
	"github.com/jeranaias/offchat/internal/util"
)

// ErrConversationNotFound is returned by Get and Delete for unknown IDs.
var ErrConversationNotFound = errors.New("conversation not found")

// ErrNothingToArchive is returned when no message is worth keeping.
var ErrNothingToArchive = errors.New("nothing to archive")

// titleLen is the rune length of titles derived from the first user message.
const titleLen = 60

// =============================================================================
// TYPES
// =============================================================================

// Conversation is an archived conversation.
type Conversation struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	ModelID    string          `json:"model_id"`
	CreatedAt  time.Time       `json:"created_at"`
	ArchivedAt time.Time       `json:"archived_at"`
	Messages   []model.Message `json:"messages"`
}

// ConversationMeta is a conversation without its messages.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	ModelID      string    `json:"model_id"`
	CreatedAt    time.Time `json:"created_at"`
	ArchivedAt   time.Time `json:"archived_at"`
	MessageCount int       `json:"message_count"`
}

// =============================================================================
// ARCHIVE
// =============================================================================

// Archive is the conversation database.
type Archive struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*Archive, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	a := &Archive{db: db, now: time.Now}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return a, nil
}

func (a *Archive) initSchema() error {
	if _, err := a.db.Exec(schema); err != nil {
		return err
	}
	_, err := a.db.Exec(
		`INSERT INTO metadata(key, value) VALUES('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(SchemaVersion),
	)
	return err
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Archive stores messages as a new conversation and returns its ID. System
// messages, placeholders and unfinished replies are skipped.
func (a *Archive) Archive(ctx context.Context, modelID string, messages []model.Message) (string, error) {
	kept := make([]model.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == model.RoleSystem || m.Kind != model.KindText || m.Streaming {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) == 0 {
		return "", ErrNothingToArchive
	}

	conv := &Conversation{
		ID:         uuid.NewString(),
		Title:      titleFor(kept),
		ModelID:    modelID,
		CreatedAt:  kept[0].CreatedAt,
		ArchivedAt: a.now(),
		Messages:   kept,
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.ArchivedAt
	}
	if err := a.save(ctx, conv); err != nil {
		return "", err
	}
	return conv.ID, nil
}

func (a *Archive) save(ctx context.Context, conv *Conversation) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations(id, title, model_id, created_at, archived_at) VALUES(?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.ModelID, conv.CreatedAt.UnixMilli(), conv.ArchivedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages(id, conversation_id, seq, role, content, attachments, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, m := range conv.Messages {
		if _, err := stmt.ExecContext(ctx,
			m.ID, conv.ID, i, string(m.Role), m.Content, strings.Join(m.Attachments, "\n"), m.CreatedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// List returns the most recently archived conversations first. limit <= 0
// means no limit.
func (a *Archive) List(ctx context.Context, limit int) ([]ConversationMeta, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.model_id, c.created_at, c.archived_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		ORDER BY c.archived_at DESC, c.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	return scanMetas(rows)
}

// Search returns conversations whose title or messages contain query,
// case-insensitively.
func (a *Archive) Search(ctx context.Context, query string) ([]ConversationMeta, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := a.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.model_id, c.created_at, c.archived_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE lower(c.title) LIKE ? ESCAPE '\'
		   OR EXISTS (SELECT 1 FROM messages m
		              WHERE m.conversation_id = c.id AND lower(m.content) LIKE ? ESCAPE '\')
		ORDER BY c.archived_at DESC, c.rowid DESC`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()
	return scanMetas(rows)
}

func scanMetas(rows *sql.Rows) ([]ConversationMeta, error) {
	var metas []ConversationMeta
	for rows.Next() {
		var m ConversationMeta
		var created, archived int64
		if err := rows.Scan(&m.ID, &m.Title, &m.ModelID, &created, &archived, &m.MessageCount); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created)
		m.ArchivedAt = time.UnixMilli(archived)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Get loads a conversation with its messages. A unique ID prefix of at least
// six characters is accepted.
func (a *Archive) Get(ctx context.Context, id string) (*Conversation, error) {
	fullID, err := a.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	conv := &Conversation{ID: fullID}
	var created, archived int64
	err = a.db.QueryRowContext(ctx,
		`SELECT title, model_id, created_at, archived_at FROM conversations WHERE id = ?`, fullID,
	).Scan(&conv.Title, &conv.ModelID, &created, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conv.CreatedAt = time.UnixMilli(created)
	conv.ArchivedAt = time.UnixMilli(archived)

	rows, err := a.db.QueryContext(ctx,
		`SELECT id, role, content, attachments, created_at FROM messages WHERE conversation_id = ? ORDER BY seq`, fullID)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m model.Message
		var role, attachments string
		var at int64
		if err := rows.Scan(&m.ID, &role, &m.Content, &attachments, &at); err != nil {
			return nil, err
		}
		m.Role = model.ParseRole(role)
		m.Kind = model.KindText
		m.CreatedAt = time.UnixMilli(at)
		if attachments != "" {
			m.Attachments = strings.Split(attachments, "\n")
		}
		conv.Messages = append(conv.Messages, m)
	}
	return conv, rows.Err()
}

// Delete removes a conversation and its messages.
func (a *Archive) Delete(ctx context.Context, id string) error {
	fullID, err := a.resolve(ctx, id)
	if err != nil {
		return err
	}
	res, err := a.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, fullID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// resolve expands an ID prefix to a full ID.
func (a *Archive) resolve(ctx context.Context, id string) (string, error) {
	if len(id) >= 36 {
		return id, nil
	}
	if len(id) < 6 {
		return "", ErrConversationNotFound
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id FROM conversations WHERE id LIKE ? ESCAPE '\' LIMIT 2`, escapeLike(id)+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var full string
		if err := rows.Scan(&full); err != nil {
			return "", err
		}
		ids = append(ids, full)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", ErrConversationNotFound
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("ambiguous conversation id %q", id)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func titleFor(msgs []model.Message) string {
	for _, m := range msgs {
		if m.Role == model.RoleUser && strings.TrimSpace(m.Content) != "" {
			return util.Preview(m.Content, titleLen)
		}
	}
	return "Untitled conversation"
}
