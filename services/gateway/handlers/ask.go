// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sitechat-ai/sitechat/services/gateway/datatypes"
	"github.com/sitechat-ai/sitechat/services/gateway/observability"
	"github.com/sitechat-ai/sitechat/services/gateway/scrape"
	"github.com/sitechat-ai/sitechat/services/llm"
)

const oneShotPromptFormat = "Based on the following document, please answer the question.\n\nDocument:\n%s \n\nQuestion: %s"

// AskHandler serves POST /api/ask, the stateless one-shot path: scrape one
// URL, answer one question, persist nothing.
func AskHandler(model llm.Client, fetcher scrape.Fetcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "AskHandler")
		defer span.End()

		var req datatypes.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			recordError(observability.EndpointAsk, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			recordError(observability.EndpointAsk, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result := fetcher.Fetch(ctx, req.URL)
		answer := askAI(ctx, model, result, req.Question)

		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointAsk, true)
		}
		c.JSON(http.StatusOK, gin.H{"answer": answer})
	}
}

// askAI mirrors the single-document answer flow. Failures come back as
// answer text, never as an HTTP error.
func askAI(ctx context.Context, model llm.Client, doc scrape.Result, question string) string {
	if model == nil {
		return "AI Model not initialized."
	}
	if doc.Failed() || doc.Text == "" {
		return "No document content to answer from."
	}

	document := scrape.LimitContext(doc.Text, scrape.MaxDocumentChars)
	prompt := fmt.Sprintf(oneShotPromptFormat, document, question)

	answer, err := model.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		recordError(observability.EndpointAsk, observability.ErrorCodeLLMError)
		return "Error interacting with AI: " + err.Error()
	}
	return answer
}
