// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("sitechat/services/llm")

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash"
	geminiRequestTimeout = 120 * time.Second
)

// GeminiClient talks to the Google Generative Language REST API.
type GeminiClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient builds a client from the environment.
//
// # Description
//
//	Reads GEMINI_API_KEY (required), GEMINI_MODEL and GEMINI_BASE_URL
//	(optional overrides). Returns an error when the key is missing so the
//	caller can start in degraded mode instead of failing requests later.
func NewGeminiClient() (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is not set")
	}

	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = defaultGeminiModel
	}

	baseURL := os.Getenv("GEMINI_BASE_URL")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}

	return &GeminiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: geminiRequestTimeout,
		},
	}, nil
}

// geminiContent is one turn in the provider's wire format. Roles are "user"
// and "model"; system prompts travel in a separate field.
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// toGeminiRequest converts neutral messages into the provider's shape.
// System messages are folded into systemInstruction; assistant turns map to
// the "model" role.
func toGeminiRequest(messages []Message, params GenerationParams) geminiRequest {
	req := geminiRequest{}

	var systemParts []geminiPart
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, geminiPart{Text: m.Content})
		case RoleAssistant:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "model",
				Parts: []geminiPart{{Text: m.Content}},
			})
		default:
			req.Contents = append(req.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})
		}
	}
	if len(systemParts) > 0 {
		req.SystemInstruction = &geminiContent{Parts: systemParts}
	}

	cfg := &geminiGenerationConfig{}
	hasCfg := false
	if params.Temperature > 0 {
		t := params.Temperature
		cfg.Temperature = &t
		hasCfg = true
	}
	if params.MaxTokens > 0 {
		cfg.MaxOutputTokens = params.MaxTokens
		hasCfg = true
	}
	if params.TopP > 0 {
		p := params.TopP
		cfg.TopP = &p
		hasCfg = true
	}
	if hasCfg {
		req.GenerationConfig = cfg
	}
	return req
}

// Generate implements Client.
func (c *GeminiClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return c.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, params)
}

// Chat implements Client.
func (c *GeminiClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "GeminiClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.message_count", len(messages)),
	)

	body, err := json.Marshal(toGeminiRequest(messages, params))
	if err != nil {
		return "", fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	resp, err := c.doPost(ctx, url, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read gemini response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse gemini response: %w", err)
	}
	if parsed.Error != nil {
		err := fmt.Errorf("gemini API error (%d %s): %s", parsed.Error.Code, parsed.Error.Status, parsed.Error.Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	text := candidateText(parsed)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ChatStream implements Client. Fragments arrive as server-sent events on
// the streamGenerateContent endpoint.
func (c *GeminiClient) ChatStream(ctx context.Context, messages []Message, params GenerationParams, cb StreamCallback) error {
	ctx, span := tracer.Start(ctx, "GeminiClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.model),
		attribute.Int("llm.message_count", len(messages)),
	)

	body, err := json.Marshal(toGeminiRequest(messages, params))
	if err != nil {
		return fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)
	resp, err := c.doPost(ctx, url, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("gemini stream failed with status %d: %s", resp.StatusCode, string(raw))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	tokens := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		payload := bytes.TrimPrefix(line, []byte("data: "))
		if len(bytes.TrimSpace(payload)) == 0 {
			continue
		}

		var chunk geminiResponse
		if err := json.Unmarshal(payload, &chunk); err != nil {
			// Skip malformed keepalive chunks rather than killing the stream.
			continue
		}
		if chunk.Error != nil {
			err := fmt.Errorf("gemini API error (%d %s): %s", chunk.Error.Code, chunk.Error.Status, chunk.Error.Message)
			span.RecordError(err)
			return cb(StreamEvent{Type: StreamEventError, Err: err})
		}

		if text := candidateText(chunk); text != "" {
			tokens++
			if err := cb(StreamEvent{Type: StreamEventToken, Content: text}); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("error reading gemini stream: %w", err)
	}

	span.SetAttributes(attribute.Int("llm.stream_chunks", tokens))
	if tokens == 0 {
		return ErrEmptyResponse
	}
	return cb(StreamEvent{Type: StreamEventDone})
}

func (c *GeminiClient) doPost(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	return resp, nil
}

func candidateText(r geminiResponse) string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
