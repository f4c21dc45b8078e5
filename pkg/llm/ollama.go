// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// OllamaClient talks to a local Ollama server's chat API with
// "format": "json" so the model is steered toward a single JSON object.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	maxRetries int
	limiter    *rate.Limiter
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   string                 `json:"format,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message   ollamaMessage `json:"message"`
	CreatedAt string        `json:"created_at"`
	Done      bool          `json:"done"`
}

// NewOllamaClient builds the client. BaseURL is required.
func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		return nil, phi.Errorf(phi.KindInvalidInput, "llm.NewOllamaClient", "ollama base URL not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", cfg.Model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		limiter:    newLimiter(cfg.RequestsPerSecond),
	}, nil
}

func (o *OllamaClient) Model() string { return o.model }

// GenerateStructured implements StructuredClient.
func (o *OllamaClient) GenerateStructured(ctx context.Context, system, user string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.GenerateStructured")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	options := make(map[string]interface{})
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	} else {
		options["temperature"] = float32(0.0)
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}

	payload := ollamaChatRequest{
		Model: o.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream:  false,
		Format:  "json",
		Options: options,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", phi.E(phi.KindInternal, "llm.OllamaClient.GenerateStructured", err)
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff(ctx, attempt); err != nil {
				return "", err
			}
			slog.Debug("Retrying Ollama request", "attempt", attempt, "model", o.model)
		}
		if err := waitLimiter(ctx, o.limiter); err != nil {
			return "", err
		}

		content, err := o.doChat(ctx, reqBody)
		if err == nil {
			return content, nil
		}
		if phi.IsKind(err, phi.KindCancelled) || phi.IsKind(err, phi.KindInvalidInput) {
			return "", err
		}
		lastErr = err
		slog.Warn("Ollama API call failed", "error", err, "attempt", attempt)
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return "", lastErr
}

func (o *OllamaClient) doChat(ctx context.Context, reqBody []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return "", phi.E(phi.KindInternal, "llm.OllamaClient.doChat", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", phi.E(phi.KindCancelled, "llm.OllamaClient.doChat", ctx.Err())
		}
		return "", phi.E(phi.KindLLM, "llm.OllamaClient.doChat", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", phi.E(phi.KindLLM, "llm.OllamaClient.doChat", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			var errResp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(respBody, &errResp); err == nil &&
				strings.Contains(errResp.Error, "model") && strings.Contains(errResp.Error, "not found") {
				return "", phi.Errorf(phi.KindInvalidInput, "llm.OllamaClient.doChat",
					"model %q not found, run: ollama pull %s", o.model, o.model)
			}
		}
		return "", phi.Errorf(phi.KindLLM, "llm.OllamaClient.doChat",
			"ollama chat failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", phi.Errorf(phi.KindLLM, "llm.OllamaClient.doChat",
			"failed to parse ollama response: %v", err)
	}
	if chatResp.Message.Role != "assistant" {
		slog.Warn("Ollama response message role was not 'assistant'", "role", chatResp.Message.Role)
	}
	return chatResp.Message.Content, nil
}
