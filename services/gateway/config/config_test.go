// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, ":8000", cfg.Addr())
	assert.Equal(t, "data/sitechat.db", cfg.DatabasePath)
	assert.Equal(t, BackendGemini, cfg.BackendType)
	assert.Equal(t, 10*time.Second, cfg.ScrapeTimeout())
	assert.Equal(t, "http://localhost:3000", cfg.CORSAllowedOrigin)
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "9090")
	t.Setenv("LLM_BACKEND_TYPE", "openai")
	t.Setenv("SCRAPE_TIMEOUT_SECONDS", "3")
	t.Setenv("CORS_ALLOWED_ORIGIN", "https://app.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, BackendOpenAI, cfg.BackendType)
	assert.Equal(t, 3*time.Second, cfg.ScrapeTimeout())
	assert.Equal(t, "https://app.example.com", cfg.CORSAllowedOrigin)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("LLM_BACKEND_TYPE", "clippy")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadPort(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "-1")
	_, err := Load()
	assert.Error(t, err)
}
