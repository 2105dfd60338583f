// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scrape

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/sitechat-ai/sitechat/services/gateway/observability"
)

const (
	// failedBlockPrefix marks a per-URL failure block inside a document.
	failedBlockPrefix = "Failed to scrape"

	// maxConcurrentFetches bounds the scatter width of a multi-URL scrape.
	maxConcurrentFetches = 8

	// MaxDocumentChars is the context budget handed to the model. Documents
	// longer than this are cut at a natural boundary, not mid-word.
	MaxDocumentChars = 10000
)

// Fetcher is the single-URL dependency of the aggregator.
type Fetcher interface {
	Fetch(ctx context.Context, url string) Result
}

// Aggregator scrapes an ordered URL list concurrently and assembles one
// document for prompting.
type Aggregator struct {
	fetcher Fetcher
}

func NewAggregator(fetcher Fetcher) *Aggregator {
	return &Aggregator{fetcher: fetcher}
}

// FetchAll scrapes every URL and returns results in input order. Individual
// failures are captured in their Result, never returned as an error; the
// only error here is context cancellation.
func (a *Aggregator) FetchAll(ctx context.Context, urls []string) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Aggregator.FetchAll")
	defer span.End()
	span.SetAttributes(attribute.Int("scrape.url_count", len(urls)))

	results := make([]Result, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = a.fetcher.Fetch(ctx, url)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("scrape.failed_count", failed))
	if m := observability.DefaultMetrics; m != nil && failed > 0 {
		for i := 0; i < failed; i++ {
			m.RecordScrapeFailure()
		}
	}
	return results, nil
}

// BuildDocument scrapes all URLs and joins the per-URL blocks with a blank
// line. Failure blocks read "Failed to scrape {url}. Error: {detail}";
// success blocks read "Content from {url}:" followed by the text and a
// "---" terminator.
func (a *Aggregator) BuildDocument(ctx context.Context, urls []string) (string, error) {
	results, err := a.FetchAll(ctx, urls)
	if err != nil {
		return "", err
	}
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, r.WireString())
	}
	return strings.Join(blocks, "\n\n"), nil
}

// AllFailed reports whether every non-empty block of a document is a scrape
// failure. Callers treat this as a hard error before talking to the model.
func AllFailed(doc string) bool {
	sawBlock := false
	for _, block := range strings.Split(doc, "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		sawBlock = true
		if !strings.HasPrefix(block, failedBlockPrefix) {
			return false
		}
	}
	return sawBlock
}

// LimitContext trims a document to at most max characters, preferring to
// cut between lines rather than mid-sentence. A non-positive max falls back
// to MaxDocumentChars.
func LimitContext(doc string, max int) string {
	if max <= 0 {
		max = MaxDocumentChars
	}
	if len(doc) <= max {
		return doc
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(max),
		textsplitter.WithChunkOverlap(0),
	)
	chunks, err := splitter.SplitText(doc)
	if err != nil || len(chunks) == 0 || len(chunks[0]) > max || chunks[0] == "" {
		// Fall back to a hard cut when the splitter cannot find a boundary.
		return doc[:max]
	}
	return chunks[0]
}
