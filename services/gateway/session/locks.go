// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import "sync"

// chatLocks serializes turns per chat ID. Entries are reference counted so
// the map does not grow with every chat ever seen.
type chatLocks struct {
	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[string]*chatLock)}
}

// Lock acquires the mutex for chatID and returns its release func.
func (l *chatLocks) Lock(chatID string) (unlock func()) {
	l.mu.Lock()
	entry, ok := l.locks[chatID]
	if !ok {
		entry = &chatLock{}
		l.locks[chatID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, chatID)
		}
		l.mu.Unlock()
	}
}
