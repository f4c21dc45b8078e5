// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// OpenAIClient talks to the OpenAI chat completions API (or any compatible
// gateway via BaseURL) with JSON response mode enabled.
type OpenAIClient struct {
	client     *openai.Client
	model      string
	maxRetries int
	limiter    *rate.Limiter
}

// NewOpenAIClient builds the client. The API key falls back to the
// OPENAI_API_KEY environment variable when not in the config.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, phi.Errorf(phi.KindInvalidInput, "llm.NewOpenAIClient",
			"api key not set in config or OPENAI_API_KEY")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	slog.Info("Initializing OpenAI client", "model", cfg.Model, "base_url", clientCfg.BaseURL)
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		limiter:    newLimiter(cfg.RequestsPerSecond),
	}, nil
}

func (o *OpenAIClient) Model() string { return o.model }

// GenerateStructured implements StructuredClient.
func (o *OpenAIClient) GenerateStructured(ctx context.Context, system, user string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.GenerateStructured")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff(ctx, attempt); err != nil {
				return "", err
			}
			slog.Debug("Retrying OpenAI request", "attempt", attempt, "model", o.model)
		}
		if err := waitLimiter(ctx, o.limiter); err != nil {
			return "", err
		}

		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return "", phi.E(phi.KindCancelled, "llm.OpenAIClient.GenerateStructured", ctx.Err())
			}
			slog.Warn("OpenAI API call failed", "error", err, "attempt", attempt)
			lastErr = err
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = phi.Errorf(phi.KindLLM, "llm.OpenAIClient.GenerateStructured", "OpenAI returned no choices")
			continue
		}
		span.SetAttributes(attribute.String("llm.finish_reason", string(resp.Choices[0].FinishReason)))
		return resp.Choices[0].Message.Content, nil
	}

	err := phi.E(phi.KindLLM, "llm.OpenAIClient.GenerateStructured", lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}
