// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the HTTP handlers for the gateway service.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

// Frame sentinels. Answer fragments are raw text; the trailing metadata
// frame and any error frame are JSON payloads marked by these prefixes on
// their own line.
const (
	MetadataFramePrefix = "__CHAT_METADATA__"
	ErrorFramePrefix    = "__CHAT_ERROR__"
)

// FrameWriter writes the chat stream wire format: plain-text answer
// fragments followed by exactly one sentinel-prefixed JSON frame.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; fragment and frame
// writes may come from different goroutines than the error path.
type FrameWriter interface {
	// Fragment writes one answer fragment and flushes it to the client.
	Fragment(text string) error

	// MetadataFrame writes the trailing metadata frame.
	MetadataFrame(payload any) error

	// ErrorFrame writes a terminal error frame. No frames may follow.
	ErrorFrame(payload any) error

	// Started reports whether anything has been written. Once true, errors
	// can only be delivered in-stream, not as an HTTP error response.
	Started() bool
}

// ginFrameWriter streams frames over a gin response. Headers go out lazily
// on the first write so pre-stream failures can still use a JSON error
// response with a proper status code.
type ginFrameWriter struct {
	mu      sync.Mutex
	c       *gin.Context
	started bool
}

var _ FrameWriter = (*ginFrameWriter)(nil)

// NewFrameWriter wraps a gin context for frame streaming.
func NewFrameWriter(c *gin.Context) FrameWriter {
	return &ginFrameWriter{c: c}
}

func (w *ginFrameWriter) Fragment(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write([]byte(text))
}

func (w *ginFrameWriter) MetadataFrame(payload any) error {
	return w.frame(MetadataFramePrefix, payload)
}

func (w *ginFrameWriter) ErrorFrame(payload any) error {
	return w.frame(ErrorFramePrefix, payload)
}

func (w *ginFrameWriter) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *ginFrameWriter) frame(prefix string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", prefix, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	// The newline terminates the preceding fragment run so clients can
	// find the sentinel at line start.
	return w.write(append(append([]byte("\n"+prefix), body...), '\n'))
}

func (w *ginFrameWriter) write(b []byte) error {
	if !w.started {
		header := w.c.Writer.Header()
		header.Set("Content-Type", "text/plain; charset=utf-8")
		header.Set("Cache-Control", "no-cache")
		header.Set("X-Accel-Buffering", "no")
		w.c.Writer.WriteHeader(http.StatusOK)
		w.started = true
	}
	if _, err := w.c.Writer.Write(b); err != nil {
		return fmt.Errorf("client write failed: %w", err)
	}
	w.c.Writer.Flush()
	return nil
}
