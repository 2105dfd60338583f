// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"errors"
	"fmt"
)

// Terminal per-turn errors. Handlers translate these into wire responses;
// message text may be surfaced to the caller verbatim.
var (
	// ErrAIDisabled means the process started without a usable model
	// backend (degraded mode).
	ErrAIDisabled = errors.New("ai model not initialized")

	// ErrNoURLs means a new chat was requested without any URLs to scrape.
	ErrNoURLs = errors.New("no urls provided")

	// ErrChatNotFound means the given chat ID does not exist and no URLs
	// were supplied to start over with.
	ErrChatNotFound = errors.New("chat not found")

	// ErrUnauthorized means the chat exists but belongs to someone else.
	ErrUnauthorized = errors.New("unauthorized chat access")

	// ErrAllSourcesFailed means every URL in the scrape set failed.
	ErrAllSourcesFailed = errors.New("failed to scrape all provided urls")

	// ErrMissingStoredURLs means a chat needing rehydration has no stored
	// URLs to rebuild context from. This indicates corrupted data.
	ErrMissingStoredURLs = errors.New("stored chat has no urls to rehydrate from")

	// ErrEmptyResponse means the model stream completed without producing
	// any text. Nothing is committed.
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// ProviderError wraps any model-interaction failure (priming or question
// turn). The chat's live handle has already been evicted when this is
// returned.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CommitError wraps a store failure that happened after the full answer was
// already streamed to the caller. The streamed answer and the durable record
// diverge; callers surface this rather than hiding it.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("failed to save chat messages: %v", e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
