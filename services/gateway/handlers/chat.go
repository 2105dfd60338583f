// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/sitechat-ai/sitechat/services/gateway/datatypes"
	"github.com/sitechat-ai/sitechat/services/gateway/observability"
	"github.com/sitechat-ai/sitechat/services/gateway/session"
)

var tracer = otel.Tracer("sitechat/services/gateway/handlers")

// TurnRunner is the reconciler surface the chat handler depends on.
type TurnRunner interface {
	RunTurn(ctx context.Context, req session.TurnRequest, sink session.TurnSink) error
}

// errorBody is the JSON error shape shared by pre-stream responses and
// in-stream error frames.
type errorBody struct {
	Error  string `json:"error"`
	Answer string `json:"answer"`
}

// ChatHandler serves POST /api/chat: a streamed answer followed by one
// metadata frame carrying the updated chat.
type ChatHandler struct {
	runner TurnRunner
}

func NewChatHandler(runner TurnRunner) *ChatHandler {
	return &ChatHandler{runner: runner}
}

// streamSink adapts a FrameWriter to the reconciler's TurnSink, firing a
// callback on the first fragment for latency metrics.
type streamSink struct {
	writer  FrameWriter
	onFirst func()
	first   bool
}

func (s *streamSink) Fragment(text string) error {
	if !s.first {
		s.first = true
		if s.onFirst != nil {
			s.onFirst()
		}
	}
	return s.writer.Fragment(text)
}

func (s *streamSink) Metadata(chat *datatypes.Chat) error {
	return s.writer.MetadataFrame(gin.H{"chat": chat})
}

// Handle runs one chat turn.
func (h *ChatHandler) Handle(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "ChatHandler.Handle")
	defer span.End()

	start := time.Now()
	endpoint := observability.EndpointChat

	// Step 1: Bind and validate the request
	var req datatypes.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, errorBody{
			Error:  err.Error(),
			Answer: "Invalid request.",
		})
		return
	}
	if err := req.Validate(); err != nil {
		recordError(endpoint, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, errorBody{
			Error:  err.Error(),
			Answer: "Invalid request.",
		})
		return
	}

	// Step 2: Set up the frame stream
	writer := NewFrameWriter(c)
	sink := &streamSink{
		writer: writer,
		onFirst: func() {
			if m := observability.DefaultMetrics; m != nil {
				m.RecordTimeToFirstFragment(endpoint, time.Since(start).Seconds())
			}
		},
	}
	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	// Step 3: Run the turn
	err := h.runner.RunTurn(ctx, session.TurnRequest{
		UserID:   req.UserID,
		ChatID:   req.ChatID,
		Question: req.Question,
		URLs:     req.URLs,
	}, sink)

	// Step 4: Report the outcome
	if m := observability.DefaultMetrics; m != nil {
		m.RecordRequest(endpoint, err == nil)
		m.RecordStreamDuration(endpoint, time.Since(start).Seconds(), err == nil)
	}
	if err == nil {
		return
	}

	status, body, code := classifyTurnError(err)
	recordError(endpoint, code)
	if errors.Is(err, context.Canceled) {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordClientDisconnect(endpoint)
		}
	}
	slog.Error("chat turn failed",
		"user_id", req.UserID,
		"chat_id", req.ChatID,
		"status", status,
		"error", err)

	// Before any fragment went out, a plain JSON error response still
	// works. After that, the only channel left is an in-stream error frame.
	if !writer.Started() {
		c.JSON(status, body)
		return
	}
	if frameErr := writer.ErrorFrame(body); frameErr != nil {
		slog.Warn("failed to deliver error frame", "error", frameErr)
	}
}

// classifyTurnError maps a reconciler error onto its HTTP status, wire body
// and metrics code.
func classifyTurnError(err error) (int, errorBody, observability.ErrorCode) {
	var provErr *session.ProviderError
	var commitErr *session.CommitError

	switch {
	case errors.Is(err, session.ErrNoURLs):
		return http.StatusBadRequest, errorBody{
			Error:  "No URLs provided.",
			Answer: "Please provide at least one URL.",
		}, observability.ErrorCodeValidation

	case errors.Is(err, session.ErrChatNotFound):
		return http.StatusNotFound, errorBody{
			Error:  "Chat session not found.",
			Answer: "Chat not found and no URLs provided to start a new one.",
		}, observability.ErrorCodeNotFound

	case errors.Is(err, session.ErrUnauthorized):
		return http.StatusForbidden, errorBody{
			Error:  "Unauthorized access to chat session.",
			Answer: "Unauthorized.",
		}, observability.ErrorCodeUnauthorized

	case errors.Is(err, session.ErrAllSourcesFailed):
		return http.StatusInternalServerError, errorBody{
			Error:  "Failed to scrape all provided URLs.",
			Answer: "Could not retrieve content from any of the URLs.",
		}, observability.ErrorCodeScrapeFailed

	case errors.Is(err, session.ErrAIDisabled):
		return http.StatusInternalServerError, errorBody{
			Error:  "AI Model not initialized.",
			Answer: "Failed to get a response from the AI.",
		}, observability.ErrorCodeLLMError

	case errors.Is(err, session.ErrMissingStoredURLs):
		return http.StatusInternalServerError, errorBody{
			Error:  "Chat session has no stored URLs to rebuild context from.",
			Answer: "Could not restore this chat session.",
		}, observability.ErrorCodeInternal

	case errors.Is(err, session.ErrEmptyResponse):
		return http.StatusInternalServerError, errorBody{
			Error:  "The AI returned an empty response.",
			Answer: "Failed to get a response from the AI.",
		}, observability.ErrorCodeEmptyResponse

	case errors.As(err, &provErr):
		return http.StatusInternalServerError, errorBody{
			Error:  provErr.Error(),
			Answer: "Failed to get a response from the AI.",
		}, observability.ErrorCodeLLMError

	case errors.As(err, &commitErr):
		return http.StatusInternalServerError, errorBody{
			Error:  commitErr.Error(),
			Answer: "Your answer was generated but could not be saved.",
		}, observability.ErrorCodeCommitFailed

	default:
		return http.StatusInternalServerError, errorBody{
			Error:  "An unexpected error occurred: " + err.Error(),
			Answer: "An error occurred.",
		}, observability.ErrorCodeInternal
	}
}

func recordError(endpoint observability.Endpoint, code observability.ErrorCode) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
	}
}
