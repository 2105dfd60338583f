// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"sync"

	"github.com/sitechat-ai/sitechat/services/llm"
)

// Handle is the live, process-local state of one chat's conversation with
// the model: the running history mirror used to resume streaming turns
// without re-scraping. Handles are never persisted; losing one is always
// recoverable by rehydrating from the stored chat.
type Handle struct {
	ChatID  string
	History []llm.Message
}

// Clone returns a deep copy so callers can mutate history without racing
// the cache.
func (h *Handle) Clone() *Handle {
	if h == nil {
		return nil
	}
	history := make([]llm.Message, len(h.History))
	copy(history, h.History)
	return &Handle{ChatID: h.ChatID, History: history}
}

// HandleCache stores live handles keyed by chat ID.
type HandleCache interface {
	// Get returns a copy of the cached handle, or nil when absent.
	Get(chatID string) *Handle

	// Put stores a copy of the handle.
	Put(h *Handle)

	// Evict drops the handle for a chat. No-op when absent.
	Evict(chatID string)

	// Len reports the number of cached handles.
	Len() int
}

// MemoryCache is a mutex-guarded in-process HandleCache.
type MemoryCache struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

var _ HandleCache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{handles: make(map[string]*Handle)}
}

func (c *MemoryCache) Get(chatID string) *Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handles[chatID].Clone()
}

func (c *MemoryCache) Put(h *Handle) {
	if h == nil || h.ChatID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles[h.ChatID] = h.Clone()
}

func (c *MemoryCache) Evict(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, chatID)
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}
