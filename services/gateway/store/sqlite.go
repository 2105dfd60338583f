// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/sitechat-ai/sitechat/services/gateway/datatypes"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	title      TEXT NOT NULL,
	urls       TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chats_user_created ON chats(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);
`

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Parent directories are created as well.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertUser implements Store.
func (s *SQLiteStore) UpsertUser(ctx context.Context, userID string) (*datatypes.User, error) {
	user := &datatypes.User{
		ID:    userID,
		Email: datatypes.PlaceholderEmail(userID),
	}

	row := s.db.QueryRowContext(ctx, "SELECT id, email, created_at FROM users WHERE id = ?", userID)
	err := row.Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	user.CreatedAt = datatypes.NowMilli()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING",
		user.ID, user.Email, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

// FindChatByID implements Store.
func (s *SQLiteStore) FindChatByID(ctx context.Context, chatID string) (*datatypes.Chat, error) {
	chat, err := scanChatRow(s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, urls, created_at FROM chats WHERE id = ?", chatID))
	if err != nil {
		return nil, err
	}

	messages, err := s.messagesForChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	chat.Messages = messages
	return chat, nil
}

// CreateChat implements Store.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *datatypes.Chat) error {
	urls, err := json.Marshal(chat.URLs)
	if err != nil {
		return fmt.Errorf("failed to encode urls: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO chats (id, user_id, title, urls, created_at) VALUES (?, ?, ?, ?, ?)",
		chat.ID, chat.UserID, chat.Title, string(urls), chat.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// UpdateChatURLs implements Store.
func (s *SQLiteStore) UpdateChatURLs(ctx context.Context, chatID string, urls []string) error {
	encoded, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("failed to encode urls: %w", err)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE chats SET urls = ? WHERE id = ?", string(encoded), chatID)
	if err != nil {
		return fmt.Errorf("failed to update chat urls: %w", err)
	}
	return requireRowAffected(res)
}

// RenameChat implements Store.
func (s *SQLiteStore) RenameChat(ctx context.Context, chatID, title string) (*datatypes.Chat, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE chats SET title = ? WHERE id = ?", title, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to rename chat: %w", err)
	}
	if err := requireRowAffected(res); err != nil {
		return nil, err
	}
	return s.FindChatByID(ctx, chatID)
}

// DeleteChat implements Store. Messages are removed in the same transaction.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", chatID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if err := requireRowAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateMessages implements Store. The batch is written in a single
// transaction so either every message lands or none do.
func (s *SQLiteStore) CreateMessages(ctx context.Context, messages []datatypes.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range messages {
		if _, err := stmt.ExecContext(ctx, m.ID, m.ChatID, m.Role, m.Content, m.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteMessagesByChat implements Store.
func (s *SQLiteStore) DeleteMessagesByChat(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// ListChats implements Store.
func (s *SQLiteStore) ListChats(ctx context.Context, userID string, createdAfter int64) ([]datatypes.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, title, urls, created_at FROM chats WHERE user_id = ? AND created_at > ? ORDER BY created_at DESC",
		userID, createdAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []datatypes.Chat
	for rows.Next() {
		chat, err := scanChatRow(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	for i := range chats {
		messages, err := s.messagesForChat(ctx, chats[i].ID)
		if err != nil {
			return nil, err
		}
		chats[i].Messages = messages
	}
	return chats, nil
}

// messagesForChat loads a chat's messages oldest first. Insert order breaks
// timestamp ties so a user/answer pair written in one batch keeps its order.
func (s *SQLiteStore) messagesForChat(ctx context.Context, chatID string) ([]datatypes.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chat_id, role, content, created_at FROM messages WHERE chat_id = ? ORDER BY created_at ASC, rowid ASC",
		chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var messages []datatypes.Message
	for rows.Next() {
		var m datatypes.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChatRow(row rowScanner) (*datatypes.Chat, error) {
	var chat datatypes.Chat
	var urls string
	if err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &urls, &chat.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan chat: %w", err)
	}
	if err := json.Unmarshal([]byte(urls), &chat.URLs); err != nil {
		return nil, fmt.Errorf("failed to decode urls: %w", err)
	}
	return &chat, nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
