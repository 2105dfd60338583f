// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGeminiClient(baseURL string) *GeminiClient {
	return &GeminiClient{
		baseURL:    baseURL,
		apiKey:     "test-key",
		model:      "gemini-test",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func sseChunk(text string) string {
	return fmt.Sprintf(`data: {"candidates":[{"content":{"parts":[{"text":%q}]}}]}`+"\n\n", text)
}

func TestGeminiChatStream_DeliversFragmentsInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":streamGenerateContent")
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, text := range []string{"The ", "answer ", "is 42."} {
			fmt.Fprint(w, sseChunk(text))
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := newTestGeminiClient(server.URL)

	var got []string
	done := false
	err := client.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "question"}}, GenerationParams{}, func(ev StreamEvent) error {
		switch ev.Type {
		case StreamEventToken:
			got = append(got, ev.Content)
		case StreamEventDone:
			done = true
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"The ", "answer ", "is 42."}, got)
	assert.True(t, done, "expected a terminal done event")
}

func TestGeminiChatStream_CallbackAbortStopsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			fmt.Fprint(w, sseChunk("x"))
			flusher.Flush()
		}
	}))
	defer server.Close()

	client := newTestGeminiClient(server.URL)

	abort := fmt.Errorf("client went away")
	seen := 0
	err := client.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, GenerationParams{}, func(ev StreamEvent) error {
		if ev.Type != StreamEventToken {
			return nil
		}
		seen++
		if seen == 3 {
			return abort
		}
		return nil
	})

	require.ErrorIs(t, err, abort)
	assert.Equal(t, 3, seen)
}

func TestGeminiChatStream_EmptyStreamReportsEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer server.Close()

	client := newTestGeminiClient(server.URL)

	err := client.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, GenerationParams{}, func(ev StreamEvent) error {
		t.Fatalf("no events expected, got %v", ev)
		return nil
	})

	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiChatStream_APIErrorChunkSurfacesAsErrorEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseChunk("partial "))
		fmt.Fprint(w, `data: {"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"quota exceeded"}}`+"\n\n")
	}))
	defer server.Close()

	client := newTestGeminiClient(server.URL)

	var streamErr error
	err := client.ChatStream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, GenerationParams{}, func(ev StreamEvent) error {
		if ev.Type == StreamEventError {
			streamErr = ev.Err
		}
		return ev.Err
	})

	require.Error(t, err)
	require.Error(t, streamErr)
	assert.Contains(t, streamErr.Error(), "quota exceeded")
}

func TestGeminiChatStream_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":400,"message":"bad request"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestGeminiClient(server.URL)

	err := client.ChatStream(context.Background(), nil, GenerationParams{}, func(ev StreamEvent) error {
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestGeminiChat_ParsesCandidateText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"))
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"hello "},{"text":"world"}]},"finishReason":"STOP"}]}`)
	}))
	defer server.Close()

	client := newTestGeminiClient(server.URL)

	out, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{Temperature: 0.2, MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestToGeminiRequest_RoleMapping(t *testing.T) {
	req := toGeminiRequest([]Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
		{Role: RoleUser, Content: "bye"},
	}, GenerationParams{})

	require.NotNil(t, req.SystemInstruction)
	assert.Equal(t, "be terse", req.SystemInstruction.Parts[0].Text)

	require.Len(t, req.Contents, 3)
	assert.Equal(t, "user", req.Contents[0].Role)
	assert.Equal(t, "model", req.Contents[1].Role)
	assert.Equal(t, "user", req.Contents[2].Role)
}
