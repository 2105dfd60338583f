// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the gateway's HTTP surface.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sitechat-ai/sitechat/services/gateway/handlers"
	"github.com/sitechat-ai/sitechat/services/gateway/scrape"
	"github.com/sitechat-ai/sitechat/services/gateway/store"
	"github.com/sitechat-ai/sitechat/services/llm"
)

// Deps are the constructed components the routes dispatch into.
type Deps struct {
	Chat      *handlers.ChatHandler
	Store     store.Store
	Forgetter handlers.HandleForgetter
	Model     llm.Client
	Fetcher   scrape.Fetcher
}

// Setup registers every route on the engine.
func Setup(r *gin.Engine, d Deps) {
	r.GET("/health", handlers.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/chat", d.Chat.Handle)
		api.POST("/ask", handlers.AskHandler(d.Model, d.Fetcher))
		api.PUT("/chats/:chatId/rename", handlers.RenameChatHandler(d.Store))
		api.DELETE("/chats/:chatId", handlers.DeleteChatHandler(d.Store, d.Forgetter))
		api.GET("/users/:userId/chats", handlers.ListChatsHandler(d.Store))
	}
}
