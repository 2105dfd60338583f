// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitechat-ai/sitechat/services/llm"
)

func TestMemoryCache_CopiesOnReadAndWrite(t *testing.T) {
	cache := NewMemoryCache()
	original := &Handle{
		ChatID:  "c1",
		History: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	}
	cache.Put(original)

	// Mutating the caller's handle must not leak into the cache.
	original.History[0].Content = "mutated"
	got := cache.Get("c1")
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.History[0].Content)

	// Mutating a fetched copy must not leak either.
	got.History = append(got.History, llm.Message{Role: llm.RoleAssistant, Content: "hi"})
	again := cache.Get("c1")
	assert.Len(t, again.History, 1)
}

func TestMemoryCache_EvictAndLen(t *testing.T) {
	cache := NewMemoryCache()
	assert.Nil(t, cache.Get("missing"))
	assert.Equal(t, 0, cache.Len())

	cache.Put(&Handle{ChatID: "c1"})
	cache.Put(&Handle{ChatID: "c2"})
	assert.Equal(t, 2, cache.Len())

	cache.Evict("c1")
	assert.Nil(t, cache.Get("c1"))
	assert.Equal(t, 1, cache.Len())

	// Evicting a missing key is a no-op.
	cache.Evict("c1")
	assert.Equal(t, 1, cache.Len())
}

func TestChatLocks_ReleaseRemovesEntry(t *testing.T) {
	locks := newChatLocks()
	unlock := locks.Lock("c1")
	assert.Len(t, locks.locks, 1)
	unlock()
	assert.Empty(t, locks.locks)
}

func TestChatLocks_SerializesSameKey(t *testing.T) {
	locks := newChatLocks()
	const workers = 16
	counter := 0
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			unlock := locks.Lock("c1")
			counter++
			unlock()
			done <- struct{}{}
		}()
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	assert.Equal(t, workers, counter)
	assert.Empty(t, locks.locks)
}
