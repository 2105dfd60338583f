// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides the request, response, and persisted model
// types for the gateway service.
//
// This file contains the durable chat domain model. Request/response
// types for the HTTP surface live in requests.go.
package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// Message roles. A turn is always persisted as one RoleUser message
// followed by one RoleAI message.
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// User is the durable owner record for chats. Users are created lazily
// on first chat interaction and never deleted by this service.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"createdAt"`
}

// Chat is a durable conversation record: owner, title, the ordered list
// of source URLs it was grounded on, and its messages.
//
// URLs order is significant: it is replayed verbatim when a session is
// rehydrated after the in-process handle is gone.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	URLs      []string  `json:"urls"`
	CreatedAt int64     `json:"createdAt"`
	Messages  []Message `json:"messages,omitempty"`
}

// Message is one persisted chat message. Creation order is significant
// for history replay; rows are ordered by (createdAt, rowid).
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"`
}

// NewChat builds an unsaved Chat with a generated ID and current timestamp.
func NewChat(userID, title string, urls []string) *Chat {
	return &Chat{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		URLs:      urls,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// NewMessage builds an unsaved Message with a generated ID and current
// timestamp.
func NewMessage(chatID, role, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// NowMilli is the timestamp format used across persisted records.
func NowMilli() int64 {
	return time.Now().UnixMilli()
}

// PlaceholderEmail derives the address stored for lazily created users.
func PlaceholderEmail(userID string) string {
	return "user_" + userID + "@example.com"
}
