// Copyright (C) 2025 SiteChat AI (dev@sitechat.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

// Backend names accepted in LLM_BACKEND_TYPE.
const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
)

// Config is the full gateway configuration. Every field has an environment
// binding; secrets (API keys) are read by the backend constructors
// themselves and deliberately kept out of this struct so it can be logged.
type Config struct {
	// Port the HTTP server listens on.
	Port int `env:"GATEWAY_PORT" envDefault:"8000"`

	// DatabasePath is the SQLite file location.
	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/sitechat.db"`

	// BackendType selects the model provider: gemini or openai.
	BackendType string `env:"LLM_BACKEND_TYPE" envDefault:"gemini"`

	// ScrapeTimeoutSeconds bounds each page fetch.
	ScrapeTimeoutSeconds int `env:"SCRAPE_TIMEOUT_SECONDS" envDefault:"10"`

	// CORSAllowedOrigin is the browser origin allowed to call the API.
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"http://localhost:3000"`

	// OTLPEndpoint enables trace export when set (host:port of an OTLP
	// gRPC collector). Empty disables tracing.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid GATEWAY_PORT %d", c.Port)
	}
	if c.BackendType != BackendGemini && c.BackendType != BackendOpenAI {
		return fmt.Errorf("unknown LLM_BACKEND_TYPE %q (want %s or %s)",
			c.BackendType, BackendGemini, BackendOpenAI)
	}
	if c.ScrapeTimeoutSeconds <= 0 {
		return fmt.Errorf("SCRAPE_TIMEOUT_SECONDS must be positive, got %d", c.ScrapeTimeoutSeconds)
	}
	return nil
}

// ScrapeTimeout returns the per-fetch timeout as a duration.
func (c *Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.ScrapeTimeoutSeconds) * time.Second
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
