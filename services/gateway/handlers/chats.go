// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sitechat-ai/sitechat/services/gateway/datatypes"
	"github.com/sitechat-ai/sitechat/services/gateway/store"
)

// chatHistoryWindow bounds how far back the chat list goes.
const chatHistoryWindow = 30 * 24 * time.Hour

// HandleForgetter drops a chat's live session handle.
type HandleForgetter interface {
	Forget(chatID string)
}

// RenameChatHandler serves PUT /api/chats/:chatId/rename.
func RenameChatHandler(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chatId")

		var req datatypes.RenameChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		chat, err := st.FindChatByID(c.Request.Context(), chatID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat session not found."})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rename chat: " + err.Error()})
			return
		}
		if chat.UserID != req.UserID {
			slog.Warn("rejected rename of another user's chat",
				"chat_id", chatID, "owner_id", chat.UserID, "requester_id", req.UserID)
			c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
			return
		}

		updated, err := st.RenameChat(c.Request.Context(), chatID, req.Title)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rename chat: " + err.Error()})
			return
		}
		slog.Info("chat renamed", "chat_id", chatID, "user_id", req.UserID)
		c.JSON(http.StatusOK, updated)
	}
}

// DeleteChatHandler serves DELETE /api/chats/:chatId. The chat's live
// handle is dropped as well so a dead record cannot be resumed.
func DeleteChatHandler(st store.Store, forgetter HandleForgetter) gin.HandlerFunc {
	return func(c *gin.Context) {
		chatID := c.Param("chatId")

		var req datatypes.DeleteChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		chat, err := st.FindChatByID(c.Request.Context(), chatID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Chat session not found."})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete chat: " + err.Error()})
			return
		}
		if chat.UserID != req.UserID {
			slog.Warn("rejected delete of another user's chat",
				"chat_id", chatID, "owner_id", chat.UserID, "requester_id", req.UserID)
			c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
			return
		}

		if err := st.DeleteChat(c.Request.Context(), chatID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete chat: " + err.Error()})
			return
		}
		forgetter.Forget(chatID)

		slog.Info("chat deleted", "chat_id", chatID, "user_id", req.UserID)
		c.JSON(http.StatusOK, gin.H{"message": "Chat deleted successfully", "chatId": chatID})
	}
}

// ListChatsHandler serves GET /api/users/:userId/chats: the user's chats
// from the last 30 days, newest first, with messages.
func ListChatsHandler(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		cutoff := time.Now().Add(-chatHistoryWindow).UnixMilli()

		chats, err := st.ListChats(c.Request.Context(), userID, cutoff)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list chats: " + err.Error()})
			return
		}
		if chats == nil {
			chats = []datatypes.Chat{}
		}
		c.JSON(http.StatusOK, chats)
	}
}

// HealthCheck reports process liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
