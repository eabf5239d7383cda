// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/cases"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/enablerdao/ChirAI/internal/model"
)

// sqliteSchema creates the tables. content_folded holds the case-folded
// message text so Search can run inside SQLite.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id           TEXT PRIMARY KEY,
	model        TEXT NOT NULL,
	welcome      TEXT NOT NULL DEFAULT '',
	max_messages INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);

CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq             INTEGER NOT NULL,
	id              TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	content_folded  TEXT NOT NULL,
	timestamp       INTEGER NOT NULL,
	model           TEXT NOT NULL DEFAULT '',
	error_kind      TEXT NOT NULL DEFAULT '',
	edited          INTEGER NOT NULL DEFAULT 0,
	edited_at       INTEGER,
	extra           TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (conversation_id, seq)
);

CREATE TABLE IF NOT EXISTS preferences (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// messageExtra holds the optional decorations serialized into one column.
type messageExtra struct {
	Attachments []model.Attachment `json:"attachments,omitempty"`
	Reactions   []model.Reaction   `json:"reactions,omitempty"`
	Metadata    *model.Metadata    `json:"metadata,omitempty"`
}

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps conversations in a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// MaxConversations limits stored conversations (0 = unlimited)
	MaxConversations int
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
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

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, MaxConversations: DefaultMaxConversations}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// SAVE
// =============================================================================

// Save replaces the stored copy of conv in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, conv *model.Conversation) error {
	if conv.ID == "" {
		conv.ID = model.NewID()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, model, welcome, max_messages, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			model = excluded.model,
			welcome = excluded.welcome,
			max_messages = excluded.max_messages,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Model, conv.Welcome, conv.MaxMessages,
		conv.CreatedAt.UnixNano(), conv.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", conv.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conv.ID); err != nil {
		return fmt.Errorf("clear messages %s: %w", conv.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (conversation_id, seq, id, role, content, content_folded,
			timestamp, model, error_kind, edited, edited_at, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	folder := cases.Fold()
	for i, msg := range conv.Messages {
		extra, err := encodeExtra(msg)
		if err != nil {
			return err
		}
		var editedAt sql.NullInt64
		if msg.EditedAt != nil {
			editedAt = sql.NullInt64{Int64: msg.EditedAt.UnixNano(), Valid: true}
		}
		folder.Reset()
		_, err = stmt.ExecContext(ctx,
			conv.ID, i, msg.ID, string(msg.Role), msg.Content, folder.String(msg.Content),
			msg.Timestamp.UnixNano(), msg.Model, msg.ErrorKind, msg.Edited, editedAt, extra)
		if err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}
	}

	if s.MaxConversations > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM conversations WHERE id NOT IN (
				SELECT id FROM conversations ORDER BY updated_at DESC LIMIT ?)`,
			s.MaxConversations)
		if err != nil {
			return fmt.Errorf("enforce limit: %w", err)
		}
	}

	return tx.Commit()
}

func encodeExtra(msg model.Message) (string, error) {
	if len(msg.Attachments) == 0 && len(msg.Reactions) == 0 && msg.Metadata == nil {
		return "", nil
	}
	data, err := json.Marshal(messageExtra{
		Attachments: msg.Attachments,
		Reactions:   msg.Reactions,
		Metadata:    msg.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	return string(data), nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load retrieves a conversation by ID.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*model.Conversation, error) {
	var (
		conv             model.Conversation
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, model, welcome, max_messages, created_at, updated_at
		FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.Model, &conv.Welcome, &conv.MaxMessages, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	conv.CreatedAt = time.Unix(0, created)
	conv.UpdatedAt = time.Unix(0, updated)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, timestamp, model, error_kind, edited, edited_at, extra
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load messages %s: %w", id, err)
	}
	defer rows.Close()

	conv.Messages = []model.Message{}
	for rows.Next() {
		var (
			msg      model.Message
			role     string
			ts       int64
			editedAt sql.NullInt64
			extra    string
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &ts, &msg.Model, &msg.ErrorKind,
			&msg.Edited, &editedAt, &extra); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.Timestamp = time.Unix(0, ts)
		if editedAt.Valid {
			t := time.Unix(0, editedAt.Int64)
			msg.EditedAt = &t
		}
		if extra != "" {
			var ex messageExtra
			if err := json.Unmarshal([]byte(extra), &ex); err != nil {
				return nil, fmt.Errorf("decode message %s: %w", msg.ID, err)
			}
			msg.Attachments, msg.Reactions, msg.Metadata = ex.Attachments, ex.Reactions, ex.Metadata
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &conv, nil
}

// =============================================================================
// LIST / SEARCH
// =============================================================================

const metaQuery = `
	SELECT c.id, c.model, c.created_at, c.updated_at,
		(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
		COALESCE((SELECT m.content FROM messages m
			WHERE m.conversation_id = c.id AND m.role = 'user' ORDER BY m.seq LIMIT 1), '')
	FROM conversations c`

// List returns all conversations, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]ConversationMeta, error) {
	return s.queryMetas(ctx, metaQuery+` ORDER BY c.updated_at DESC`)
}

// Search returns conversations with a message containing query, ignoring
// case, most recently updated first.
func (s *SQLiteStore) Search(ctx context.Context, query string) ([]ConversationMeta, error) {
	needle := foldQuery(query)
	if needle == "" {
		return nil, nil
	}
	return s.queryMetas(ctx, metaQuery+`
		WHERE EXISTS (SELECT 1 FROM messages m
			WHERE m.conversation_id = c.id AND instr(m.content_folded, ?) > 0)
		ORDER BY c.updated_at DESC`, needle)
}

func (s *SQLiteStore) queryMetas(ctx context.Context, query string, args ...any) ([]ConversationMeta, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var metas []ConversationMeta
	for rows.Next() {
		var (
			id, modelID, firstUser string
			created, updated       int64
			count                  int
		)
		if err := rows.Scan(&id, &modelID, &created, &updated, &count, &firstUser); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		// Reuse the in-memory summary and title rules.
		conv := &model.Conversation{ID: id, Model: modelID,
			CreatedAt: time.Unix(0, created), UpdatedAt: time.Unix(0, updated)}
		if firstUser != "" {
			conv.Messages = []model.Message{{Role: model.RoleUser, Content: firstUser}}
		}
		meta := metaOf(conv)
		meta.MessageCount = count
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// =============================================================================
// DELETE / PRUNE
// =============================================================================

// Delete removes a conversation and its messages.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// PruneOlderThan deletes conversations not updated within days. days <= 0
// keeps everything.
func (s *SQLiteStore) PruneOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`,
		pruneCutoff(days).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// =============================================================================
// PREFERENCES
// =============================================================================

const preferencesKey = "user"

// LoadPreferences returns saved preferences, or defaults if none exist.
func (s *SQLiteStore) LoadPreferences(ctx context.Context) (Preferences, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, preferencesKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DefaultPreferences(), nil
		}
		return DefaultPreferences(), fmt.Errorf("load preferences: %w", err)
	}
	prefs := DefaultPreferences()
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return DefaultPreferences(), fmt.Errorf("decode preferences: %w", err)
	}
	return prefs.Normalize(), nil
}

// SavePreferences persists prefs.
func (s *SQLiteStore) SavePreferences(ctx context.Context, prefs Preferences) error {
	data, err := json.Marshal(prefs.Normalize())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, preferencesKey, string(data))
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
