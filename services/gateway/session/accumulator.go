// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session owns the ephemeral side of a chat: live provider handles,
// per-chat locking and the turn reconciliation state machine. Durable state
// lives in the store package and is never touched by anything else.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

const (
	// answerBufferSize caps a single streamed answer. 512 KB is roughly
	// 131k tokens at 4 bytes per token.
	answerBufferSize = 512 * 1024

	minMlockLimitKB = 512

	insecureMemoryEnv = "SITECHAT_INSECURE_MEMORY"
)

var (
	memguardInitOnce sync.Once
	mlockSufficient  bool
	mlockLimitKB     int64
)

// AnswerAccumulator collects streamed answer fragments and hashes them
// incrementally. Implementations are single-use: after Finalize or Destroy
// the accumulator is dead.
type AnswerAccumulator interface {
	// Write appends one fragment. Fails on overflow or after destruction.
	Write(fragment string) error

	// Finalize returns the full answer and its hex SHA-256, then wipes the
	// buffer.
	Finalize() (answer string, digest string, err error)

	// Destroy wipes the buffer without returning data. Idempotent.
	Destroy()
}

// NewAnswerAccumulator returns an accumulator backed by mlocked memory when
// the system allows it. With insufficient mlock limits it fails unless
// SITECHAT_INSECURE_MEMORY=true selects the plain-memory fallback.
func NewAnswerAccumulator() (AnswerAccumulator, error) {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, mlockLimitKB = checkMlockLimit()
	})

	if !mlockSufficient {
		if os.Getenv(insecureMemoryEnv) == "true" {
			slog.Warn("using insecure answer accumulator, mlock limit too low",
				"limit_kb", mlockLimitKB, "required_kb", minMlockLimitKB)
			return &plainAccumulator{hasher: sha256.New()}, nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB (or set %s=true)",
			mlockLimitKB, minMlockLimitKB, insecureMemoryEnv)
	}

	buf := memguard.NewBuffer(answerBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", answerBufferSize)
	}
	buf.Melt()
	return &secureAccumulator{buffer: buf, hasher: sha256.New()}, nil
}

func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= minMlockLimitKB, limitKB
}

// secureAccumulator keeps the in-flight answer in an mlocked guard-paged
// buffer so it cannot be swapped to disk mid-stream.
type secureAccumulator struct {
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

var _ AnswerAccumulator = (*secureAccumulator)(nil)

func (a *secureAccumulator) Write(fragment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("answer buffer overflow")
	}
	if a.offset+len(fragment) > answerBufferSize {
		a.overflow = true
		return fmt.Errorf("answer buffer overflow: need %d bytes, have %d remaining",
			len(fragment), answerBufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], fragment)
	a.offset += len(fragment)
	a.hasher.Write([]byte(fragment))
	return nil
}

func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("answer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, digest, nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.destroyed {
		a.wipe()
	}
}

func (a *secureAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// plainAccumulator is the fallback for hosts without usable mlock. Wiping is
// best effort only.
type plainAccumulator struct {
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

var _ AnswerAccumulator = (*plainAccumulator)(nil)

func (a *plainAccumulator) Write(fragment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("answer buffer overflow")
	}
	if len(a.data)+len(fragment) > answerBufferSize {
		a.overflow = true
		return fmt.Errorf("answer buffer overflow: need %d bytes, have %d remaining",
			len(fragment), answerBufferSize-len(a.data))
	}

	a.data = append(a.data, fragment...)
	a.hasher.Write([]byte(fragment))
	return nil
}

func (a *plainAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("answer overflowed during accumulation")
	}

	answer := string(a.data)
	digest := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, digest, nil
}

func (a *plainAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.destroyed {
		a.wipe()
	}
}

func (a *plainAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}
