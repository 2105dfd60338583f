// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat-ai/sitechat/services/gateway/datatypes"
	"github.com/sitechat-ai/sitechat/services/gateway/store"
)

type forgetRecorder struct {
	forgotten []string
}

func (f *forgetRecorder) Forget(chatID string) {
	f.forgotten = append(f.forgotten, chatID)
}

func chatsTestSetup(t *testing.T) (*gin.Engine, *store.SQLiteStore, *forgetRecorder) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	forgetter := &forgetRecorder{}
	r := gin.New()
	r.PUT("/api/chats/:chatId/rename", RenameChatHandler(st))
	r.DELETE("/api/chats/:chatId", DeleteChatHandler(st, forgetter))
	r.GET("/api/users/:userId/chats", ListChatsHandler(st))
	r.GET("/health", HealthCheck)
	return r, st, forgetter
}

func seedChat(t *testing.T, st *store.SQLiteStore, userID string) *datatypes.Chat {
	t.Helper()
	ctx := context.Background()
	_, err := st.UpsertUser(ctx, userID)
	require.NoError(t, err)
	chat := datatypes.NewChat(userID, "Seeded", []string{"http://a"})
	require.NoError(t, st.CreateChat(ctx, chat))
	return chat
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRenameChat_Success(t *testing.T) {
	router, st, _ := chatsTestSetup(t)
	chat := seedChat(t, st, "u1")

	rec := doJSON(t, router, http.MethodPut, "/api/chats/"+chat.ID+"/rename",
		`{"title":"Renamed","userId":"u1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var updated datatypes.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Renamed", updated.Title)

	stored, err := st.FindChatByID(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Title)
}

func TestRenameChat_WrongUser(t *testing.T) {
	router, st, _ := chatsTestSetup(t)
	chat := seedChat(t, st, "owner")

	rec := doJSON(t, router, http.MethodPut, "/api/chats/"+chat.ID+"/rename",
		`{"title":"Hijacked","userId":"intruder"}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())

	stored, err := st.FindChatByID(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "Seeded", stored.Title, "title must be unchanged")
}

func TestRenameChat_NotFound(t *testing.T) {
	router, _, _ := chatsTestSetup(t)
	rec := doJSON(t, router, http.MethodPut, "/api/chats/missing/rename",
		`{"title":"x","userId":"u1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteChat_Success(t *testing.T) {
	router, st, forgetter := chatsTestSetup(t)
	chat := seedChat(t, st, "u1")
	require.NoError(t, st.CreateMessages(context.Background(), []datatypes.Message{
		datatypes.NewMessage(chat.ID, datatypes.RoleUser, "q"),
		datatypes.NewMessage(chat.ID, datatypes.RoleAI, "a"),
	}))

	rec := doJSON(t, router, http.MethodDelete, "/api/chats/"+chat.ID,
		`{"userId":"u1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Chat deleted successfully", body["message"])
	assert.Equal(t, chat.ID, body["chatId"])

	_, err := st.FindChatByID(context.Background(), chat.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, []string{chat.ID}, forgetter.forgotten)

	chats, err := st.ListChats(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, chats)
}

func TestDeleteChat_WrongUser(t *testing.T) {
	router, st, forgetter := chatsTestSetup(t)
	chat := seedChat(t, st, "owner")

	rec := doJSON(t, router, http.MethodDelete, "/api/chats/"+chat.ID,
		`{"userId":"intruder"}`)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, forgetter.forgotten)

	_, err := st.FindChatByID(context.Background(), chat.ID)
	assert.NoError(t, err, "chat must survive an unauthorized delete")
}

func TestDeleteChat_NotFound(t *testing.T) {
	router, _, _ := chatsTestSetup(t)
	rec := doJSON(t, router, http.MethodDelete, "/api/chats/missing", `{"userId":"u1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListChats_EmptyForUnknownUser(t *testing.T) {
	router, _, _ := chatsTestSetup(t)
	rec := doJSON(t, router, http.MethodGet, "/api/users/nobody/chats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListChats_ReturnsSeededChats(t *testing.T) {
	router, st, _ := chatsTestSetup(t)
	chat := seedChat(t, st, "u1")

	rec := doJSON(t, router, http.MethodGet, "/api/users/u1/chats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var chats []datatypes.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, chat.ID, chats[0].ID)
}

func TestHealthCheck(t *testing.T) {
	router, _, _ := chatsTestSetup(t)
	rec := doJSON(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}
