// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists users, chats and messages. It is the only owner of
// durable state; callers never touch the database directly.
package store

import (
	"context"
	"errors"

	"github.com/sitechat-ai/sitechat/services/gateway/datatypes"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("store: record not found")

// Store is the durable chat persistence contract.
//
// # Description
//
//	All methods are safe for concurrent use. Chats returned by FindChatByID
//	and ListChats include their messages ordered oldest first; writes that
//	span multiple rows are transactional.
type Store interface {
	// UpsertUser creates the user if missing and returns it. Idempotent.
	UpsertUser(ctx context.Context, userID string) (*datatypes.User, error)

	// FindChatByID loads a chat with its URLs and messages, or ErrNotFound.
	FindChatByID(ctx context.Context, chatID string) (*datatypes.Chat, error)

	// CreateChat persists a new chat record.
	CreateChat(ctx context.Context, chat *datatypes.Chat) error

	// UpdateChatURLs replaces the chat's stored URL list.
	UpdateChatURLs(ctx context.Context, chatID string, urls []string) error

	// RenameChat sets a new title and returns the updated chat.
	RenameChat(ctx context.Context, chatID, title string) (*datatypes.Chat, error)

	// DeleteChat removes the chat and all of its messages.
	DeleteChat(ctx context.Context, chatID string) error

	// CreateMessages appends messages as one atomic batch.
	CreateMessages(ctx context.Context, messages []datatypes.Message) error

	// DeleteMessagesByChat removes every message belonging to the chat.
	DeleteMessagesByChat(ctx context.Context, chatID string) error

	// ListChats returns the user's chats created after the given UnixMilli
	// cutoff, newest first, each with its messages.
	ListChats(ctx context.Context, userID string, createdAfter int64) ([]datatypes.Chat, error)

	// Close releases the underlying database handle.
	Close() error
}
