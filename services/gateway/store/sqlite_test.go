// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat-ai/sitechat/services/gateway/datatypes"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertUser_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", first.ID)
	assert.Equal(t, "user_u1@example.com", first.Email)
	assert.NotZero(t, first.CreatedAt)

	second, err := s.UpsertUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestChatLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertUser(ctx, "u1")
	require.NoError(t, err)

	chat := datatypes.NewChat("u1", "My Chat", []string{"http://a", "http://b"})
	require.NoError(t, s.CreateChat(ctx, chat))

	loaded, err := s.FindChatByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "My Chat", loaded.Title)
	assert.Equal(t, []string{"http://a", "http://b"}, loaded.URLs)
	assert.Empty(t, loaded.Messages)

	require.NoError(t, s.UpdateChatURLs(ctx, chat.ID, []string{"http://c"}))
	loaded, err = s.FindChatByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://c"}, loaded.URLs)

	renamed, err := s.RenameChat(ctx, chat.ID, "Better Title")
	require.NoError(t, err)
	assert.Equal(t, "Better Title", renamed.Title)

	require.NoError(t, s.DeleteChat(ctx, chat.ID))
	_, err = s.FindChatByID(ctx, chat.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindChatByID_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FindChatByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMutationsOnMissingChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.UpdateChatURLs(ctx, "missing", []string{"http://x"}), ErrNotFound)
	_, err := s.RenameChat(ctx, "missing", "t")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteChat(ctx, "missing"), ErrNotFound)
}

func TestCreateMessages_AtomicPairKeepsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertUser(ctx, "u1")
	require.NoError(t, err)
	chat := datatypes.NewChat("u1", "Chat", []string{"http://a"})
	require.NoError(t, s.CreateChat(ctx, chat))

	question := datatypes.NewMessage(chat.ID, datatypes.RoleUser, "what is this site?")
	answer := datatypes.NewMessage(chat.ID, datatypes.RoleAI, "a widget catalog")
	// Same-millisecond timestamps are common for a pair written together.
	answer.CreatedAt = question.CreatedAt
	require.NoError(t, s.CreateMessages(ctx, []datatypes.Message{question, answer}))

	loaded, err := s.FindChatByID(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, datatypes.RoleUser, loaded.Messages[0].Role)
	assert.Equal(t, datatypes.RoleAI, loaded.Messages[1].Role)
}

func TestCreateMessages_EmptyBatchIsNoop(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.CreateMessages(context.Background(), nil))
}

func TestDeleteMessagesByChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertUser(ctx, "u1")
	require.NoError(t, err)
	chat := datatypes.NewChat("u1", "Chat", nil)
	require.NoError(t, s.CreateChat(ctx, chat))
	require.NoError(t, s.CreateMessages(ctx, []datatypes.Message{
		datatypes.NewMessage(chat.ID, datatypes.RoleUser, "q"),
	}))

	require.NoError(t, s.DeleteMessagesByChat(ctx, chat.ID))
	loaded, err := s.FindChatByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Messages)
}

func TestListChats_FiltersAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpsertUser(ctx, "u1")
	require.NoError(t, err)
	_, err = s.UpsertUser(ctx, "u2")
	require.NoError(t, err)

	now := time.Now().UnixMilli()

	old := datatypes.NewChat("u1", "Old", nil)
	old.CreatedAt = now - 40*24*time.Hour.Milliseconds()
	mid := datatypes.NewChat("u1", "Mid", nil)
	mid.CreatedAt = now - 2*24*time.Hour.Milliseconds()
	fresh := datatypes.NewChat("u1", "Fresh", nil)
	fresh.CreatedAt = now
	other := datatypes.NewChat("u2", "Other", nil)

	for _, c := range []*datatypes.Chat{old, mid, fresh, other} {
		require.NoError(t, s.CreateChat(ctx, c))
	}
	require.NoError(t, s.CreateMessages(ctx, []datatypes.Message{
		datatypes.NewMessage(fresh.ID, datatypes.RoleUser, "hello"),
	}))

	cutoff := now - 30*24*time.Hour.Milliseconds()
	chats, err := s.ListChats(ctx, "u1", cutoff)
	require.NoError(t, err)

	require.Len(t, chats, 2)
	assert.Equal(t, "Fresh", chats[0].Title)
	assert.Equal(t, "Mid", chats[1].Title)
	require.Len(t, chats[0].Messages, 1)
	assert.Equal(t, "hello", chats[0].Messages[0].Content)
}
