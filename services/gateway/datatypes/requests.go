// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains request types for the gateway HTTP surface.
// Persisted model types live in models.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxQuestionBytes is the maximum size of a single question.
	// Oversized payloads are rejected at validation time.
	MaxQuestionBytes = 32 * 1024 // 32KB

	// MaxURLsPerRequest bounds the number of sources a chat may be
	// grounded on.
	MaxURLsPerRequest = 20
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// requestValidate is the validator instance for gateway request types.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) so large payloads
// cannot slip past a rune-based limit.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQuestionBytes
}

// =============================================================================
// Request Types
// =============================================================================

// ChatRequest is the body of POST /api/chat.
//
// # Fields
//
//   - URLs: Sources to ground the chat on. Required for a new chat;
//     optional when continuing an existing one (ChatID set) because a
//     warm session already carries its context.
//   - Question: Required. The user's question for this turn.
//   - UserID: Required. Opaque caller-supplied owner identifier.
//   - ChatID: Optional. Identifier of an existing chat to continue.
//
// # Validation
//
// Uses go-playground/validator:
//   - Question: required, max 32KB (custom maxbytes validator)
//   - UserID: required
//   - URLs: at most MaxURLsPerRequest entries, each a URL
//
// Whether URLs may be empty depends on session state (new vs resumed),
// so that check is owned by the session reconciler, not the validator.
type ChatRequest struct {
	URLs     []string `json:"urls" validate:"max=20,dive,url"`
	Question string   `json:"question" validate:"required,maxbytes"`
	UserID   string   `json:"userId" validate:"required"`
	ChatID   string   `json:"chatId"`
}

// Validate validates the ChatRequest fields after JSON binding.
func (r *ChatRequest) Validate() error {
	return requestValidate.Struct(r)
}

// AskRequest is the body of POST /api/ask, the stateless one-shot path.
type AskRequest struct {
	URL      string `json:"url" validate:"required,url"`
	Question string `json:"question" validate:"required,maxbytes"`
}

// Validate validates the AskRequest fields after JSON binding.
func (r *AskRequest) Validate() error {
	return requestValidate.Struct(r)
}

// RenameChatRequest is the body of PUT /api/chats/:chatId/rename.
// UserID must match the chat's owner.
type RenameChatRequest struct {
	Title  string `json:"title" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

// Validate validates the RenameChatRequest fields after JSON binding.
func (r *RenameChatRequest) Validate() error {
	return requestValidate.Struct(r)
}

// DeleteChatRequest is the body of DELETE /api/chats/:chatId.
type DeleteChatRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// Validate validates the DeleteChatRequest fields after JSON binding.
func (r *DeleteChatRequest) Validate() error {
	return requestValidate.Struct(r)
}
