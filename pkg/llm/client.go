// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm wraps the model backends behind one structured-output
// interface. Every backend is asked for a JSON object and the raw string is
// validated by the caller against its expected schema; the package never
// trusts the model to be well-formed.
package llm

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

var tracer = otel.Tracer("safeharbor.llm")

// GenerationParams tunes a single request. Nil fields use backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StructuredClient is the contract every backend satisfies: one system
// prompt, one user prompt, one JSON object back.
type StructuredClient interface {
	// GenerateStructured returns the model's raw JSON text. The backend
	// requests JSON output mode where the API supports it, but callers
	// must still unmarshal and validate.
	GenerateStructured(ctx context.Context, system, user string, params GenerationParams) (string, error)

	// Model identifies the backend model for logs and reports.
	Model() string
}

// Provider selects a backend implementation.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

// Config configures a backend client.
type Config struct {
	Provider Provider `yaml:"provider" validate:"required,oneof=openai ollama"`
	Model    string   `yaml:"model" validate:"required"`

	// BaseURL overrides the API endpoint (required for ollama, optional
	// for OpenAI-compatible gateways).
	BaseURL string `yaml:"base_url"`

	// APIKey is read from config or the OPENAI_API_KEY environment.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single request. Default 120s: clinical chunks with
	// long custom-type lists can be slow on local models.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries retries transient failures with linear backoff.
	MaxRetries int `yaml:"max_retries"`

	// RequestsPerSecond throttles outbound calls; zero disables the
	// limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// DefaultConfig returns the backend defaults used when a field is unset.
func DefaultConfig() Config {
	return Config{
		Provider:   ProviderOllama,
		Model:      "gpt-oss",
		Timeout:    120 * time.Second,
		MaxRetries: 2,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
}

// New builds the configured backend.
func New(cfg Config) (StructuredClient, error) {
	cfg.applyDefaults()
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg)
	case ProviderOllama:
		return NewOllamaClient(cfg)
	default:
		return nil, phi.Errorf(phi.KindInvalidInput, "llm.New", "unknown provider %q", cfg.Provider)
	}
}

// newLimiter returns nil when throttling is disabled.
func newLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}

func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return phi.E(phi.KindCancelled, "llm.waitLimiter", err)
	}
	return nil
}

// backoff sleeps before retry attempt n (1-based), honoring cancellation.
func backoff(ctx context.Context, n int) error {
	delay := time.Duration(n) * 500 * time.Millisecond
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return phi.E(phi.KindCancelled, "llm.backoff", ctx.Err())
	}
}

// ExtractJSON pulls the JSON object out of a model reply that may be wrapped
// in markdown fences or surrounded by prose. Local models ignore JSON mode
// often enough that this stays in the hot path.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if fenced := extractFenced(s); fenced != "" {
		s = fenced
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func extractFenced(s string) string {
	open := strings.Index(s, "```")
	if open < 0 {
		return ""
	}
	rest := s[open+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Skip the language tag line ("json", "JSON", or empty).
		tag := strings.TrimSpace(rest[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		return strings.TrimSpace(rest[:end])
	}
	return ""
}
