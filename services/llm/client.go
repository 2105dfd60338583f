// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
)

// Common errors returned by LLM backends.
var (
	// ErrEmptyResponse indicates the provider returned successfully but with
	// no usable text.
	ErrEmptyResponse = errors.New("llm: provider returned an empty response")
)

// Role values for chat messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is a single conversational turn sent to or received from a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams controls sampling for a single request. Zero values mean
// "use the backend default".
type GenerationParams struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// StreamEventType discriminates events delivered to a StreamCallback.
type StreamEventType int

const (
	// StreamEventToken carries a text fragment in Content.
	StreamEventToken StreamEventType = iota
	// StreamEventDone marks the end of a successful stream.
	StreamEventDone
	// StreamEventError carries a terminal error in Err.
	StreamEventError
)

// StreamEvent is one unit of a streamed generation.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Err     error
}

// StreamCallback receives stream events in order. Returning an error aborts
// the stream; the backend stops reading and returns that error from
// ChatStream.
type StreamCallback func(ev StreamEvent) error

// Client is the interface all model backends implement.
//
// # Description
//
//	Abstracts over hosted and local LLM providers so callers can swap
//	backends via configuration. All methods honor context cancellation.
type Client interface {
	// Generate produces a single completion for a one-shot prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a single completion for a multi-turn conversation.
	Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error)

	// ChatStream streams a completion for a multi-turn conversation,
	// delivering fragments to cb as they arrive. It returns after the
	// stream ends, the callback aborts, or ctx is cancelled.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams, cb StreamCallback) error
}
