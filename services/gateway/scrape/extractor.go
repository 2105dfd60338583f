// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scrape fetches web pages and reduces them to plain text suitable
// for prompting a language model.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/html"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("sitechat/services/gateway/scrape")

const (
	// maxBodyBytes bounds how much of a page we will read. Pages larger
	// than this are truncated, not rejected.
	maxBodyBytes = 4 << 20

	defaultScrapeTimeout = 10 * time.Second

	userAgent = "sitechat/1.0"
)

// Result is the outcome of scraping one URL. Exactly one of Text and Err is
// meaningful.
type Result struct {
	URL  string
	Text string
	Err  error
}

// Failed reports whether the scrape produced no usable text.
func (r Result) Failed() bool {
	return r.Err != nil
}

// TaggedString renders the result in its raw single-document form. Failures
// carry the historical "Error scraping website" marker some clients key on.
func (r Result) TaggedString() string {
	if r.Err != nil {
		return fmt.Sprintf("Error scraping website (%s): %v", r.URL, r.Err)
	}
	return r.Text
}

// WireString renders the result the way it appears inside a prompt or an
// answer body sent to the client.
func (r Result) WireString() string {
	if r.Err != nil {
		return fmt.Sprintf("Failed to scrape %s. Error: %v", r.URL, r.Err)
	}
	return fmt.Sprintf("Content from %s:\n%s\n---", r.URL, r.Text)
}

// Extractor fetches pages over HTTP and extracts their visible text.
type Extractor struct {
	client *http.Client
}

// NewExtractor returns an Extractor with the given per-request timeout.
// A non-positive timeout falls back to the default.
func NewExtractor(timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = defaultScrapeTimeout
	}
	return &Extractor{
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves one URL and returns its extracted text.
//
// # Description
//
//	Performs a GET with the configured timeout, rejects non-2xx statuses,
//	and strips the HTML down to visible text. Script and style content,
//	comments and markup are discarded; whitespace is normalized so the
//	output reads as one line per visible text run.
func (e *Extractor) Fetch(ctx context.Context, url string) Result {
	ctx, span := tracer.Start(ctx, "Extractor.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("scrape.url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		span.RecordError(err)
		return Result{URL: url, Err: fmt.Errorf("invalid URL: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{URL: url, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("scrape.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		span.SetStatus(codes.Error, err.Error())
		return Result{URL: url, Err: err}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		span.RecordError(err)
		return Result{URL: url, Err: fmt.Errorf("failed to read body: %w", err)}
	}

	text, err := ExtractText(ctx, body)
	if err != nil {
		span.RecordError(err)
		return Result{URL: url, Err: err}
	}

	span.SetAttributes(attribute.Int("scrape.text_bytes", len(text)))
	return Result{URL: url, Text: text}
}

// ExtractText parses HTML and returns its visible text content.
func ExtractText(ctx context.Context, content []byte) (string, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(html.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return "", fmt.Errorf("html parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return "", fmt.Errorf("html parse returned no tree")
	}

	var sb strings.Builder
	collectVisibleText(root, content, &sb)
	return normalizeText(sb.String()), nil
}

// collectVisibleText walks the tree appending text nodes, skipping subtrees
// that never render.
func collectVisibleText(node *sitter.Node, content []byte, sb *strings.Builder) {
	switch node.Type() {
	case "script_element", "style_element", "comment", "doctype":
		return
	case "text", "entity":
		sb.Write(content[node.StartByte():node.EndByte()])
		sb.WriteByte('\n')
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectVisibleText(node.Child(i), content, sb)
	}
}

// normalizeText collapses raw extracted text into clean lines: each line is
// trimmed, split on double spaces into phrases, and blank phrases dropped.
func normalizeText(raw string) string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		for _, chunk := range strings.Split(strings.TrimSpace(line), "  ") {
			chunk = strings.TrimSpace(chunk)
			if chunk != "" {
				out = append(out, chunk)
			}
		}
	}
	return strings.Join(out, "\n")
}
