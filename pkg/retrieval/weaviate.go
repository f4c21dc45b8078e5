// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// RegulationClassName is the Weaviate class holding regulation chunks.
const RegulationClassName = "Regulation"

// WeaviateConfig configures the regulation store connection.
type WeaviateConfig struct {
	Host   string `yaml:"host" validate:"required"`
	Scheme string `yaml:"scheme" validate:"omitempty,oneof=http https"`

	// ClassName overrides the Weaviate class; default RegulationClassName.
	ClassName string `yaml:"class_name"`

	// MaxResults caps Retrieve when the caller asks for more.
	MaxResults int `yaml:"max_results"`
}

// DefaultWeaviateConfig returns connection defaults for a local instance.
func DefaultWeaviateConfig() WeaviateConfig {
	return WeaviateConfig{
		Host:       "localhost:8080",
		Scheme:     "http",
		ClassName:  RegulationClassName,
		MaxResults: 10,
	}
}

func (c *WeaviateConfig) applyDefaults() {
	d := DefaultWeaviateConfig()
	if c.Scheme == "" {
		c.Scheme = d.Scheme
	}
	if c.ClassName == "" {
		c.ClassName = d.ClassName
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
}

// WeaviateStore is a Retriever backed by a Weaviate class of regulation
// chunks, queried with nearText semantic search.
type WeaviateStore struct {
	client *weaviate.Client
	cfg    WeaviateConfig
	logger *slog.Logger
}

// NewWeaviateStore connects and ensures the regulation class exists.
func NewWeaviateStore(ctx context.Context, cfg WeaviateConfig, logger *slog.Logger) (*WeaviateStore, error) {
	cfg.applyDefaults()
	if cfg.Host == "" {
		return nil, phi.Errorf(phi.KindInvalidInput, "retrieval.NewWeaviateStore", "weaviate host not set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme})
	if err != nil {
		return nil, phi.E(phi.KindRetriever, "retrieval.NewWeaviateStore", err)
	}

	store := &WeaviateStore{client: client, cfg: cfg, logger: logger}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// regulationSchema is the class definition for regulation chunks.
func regulationSchema(className string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "A chunk of regulatory text used as identification context.",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The regulation chunk text.",
				Tokenization: "word",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Citation for the chunk (document name and section).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the chunk was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// ensureSchema creates the class when it does not exist yet.
func (s *WeaviateStore) ensureSchema(ctx context.Context) error {
	_, err := s.client.Schema().ClassGetter().WithClassName(s.cfg.ClassName).Do(ctx)
	if err == nil {
		return nil
	}
	s.logger.Info("Creating Weaviate class", "class", s.cfg.ClassName)
	if err := s.client.Schema().ClassCreator().WithClass(regulationSchema(s.cfg.ClassName)).Do(ctx); err != nil {
		return phi.E(phi.KindRetriever, "retrieval.WeaviateStore.ensureSchema", err)
	}
	return nil
}

// Retrieve implements Retriever with a nearText search over the class.
func (s *WeaviateStore) Retrieve(ctx context.Context, query string, k int) ([]Document, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.k", k))

	if query == "" {
		return nil, phi.Errorf(phi.KindInvalidInput, "retrieval.WeaviateStore.Retrieve", "query cannot be empty")
	}
	if k <= 0 || k > s.cfg.MaxResults {
		k = s.cfg.MaxResults
	}

	nearText := s.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional { certainty distance }"},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.cfg.ClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, phi.E(phi.KindRetriever, "retrieval.WeaviateStore.Retrieve", err)
	}
	if len(result.Errors) > 0 {
		return nil, phi.Errorf(phi.KindRetriever, "retrieval.WeaviateStore.Retrieve",
			"search error: %s", result.Errors[0].Message)
	}

	docs := s.parseResults(result)
	s.logger.Debug("Retrieved regulation context", "count", len(docs))
	return docs, nil
}

// definitionsPerType caps how many snippets one type contributes to a bulk
// definition lookup.
const definitionsPerType = 2

// GetPHIDefinitions implements Retriever with one nearText search per type
// name, deduplicating snippets that define several types at once.
func (s *WeaviateStore) GetPHIDefinitions(ctx context.Context, types []string) ([]Document, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.GetPHIDefinitions")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.types", len(types)))

	if len(types) == 0 {
		return nil, phi.Errorf(phi.KindInvalidInput, "retrieval.WeaviateStore.GetPHIDefinitions",
			"at least one type name is required")
	}

	seen := make(map[string]bool)
	var out []Document
	for _, t := range types {
		docs, err := s.Retrieve(ctx, "definition and handling of the PHI category "+t, definitionsPerType)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			key := d.Source + "\x00" + d.Content
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, d)
		}
	}
	return out, nil
}

// parseResults walks the untyped GraphQL response shape.
func (s *WeaviateStore) parseResults(result *models.GraphQLResponse) []Document {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[s.cfg.ClassName].([]interface{})
	if !ok {
		return nil
	}

	docs := make([]Document, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		doc := Document{}
		if v, ok := m["content"].(string); ok {
			doc.Content = v
		}
		if v, ok := m["source"].(string); ok {
			doc.Source = v
		}
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			if c, ok := add["certainty"].(float64); ok {
				doc.Score = c
			}
		}
		if doc.Content != "" {
			docs = append(docs, doc)
		}
	}
	return docs
}

// Insert stores regulation chunks. Used by the ingestion pipeline; one
// object per chunk, vectorized server-side.
func (s *WeaviateStore) Insert(ctx context.Context, docs []Document, ingestedAt int64) error {
	for i, d := range docs {
		_, err := s.client.Data().Creator().
			WithClassName(s.cfg.ClassName).
			WithProperties(map[string]interface{}{
				"content":     d.Content,
				"source":      d.Source,
				"ingested_at": ingestedAt,
			}).
			Do(ctx)
		if err != nil {
			return phi.E(phi.KindRetriever, "retrieval.WeaviateStore.Insert",
				fmt.Errorf("chunk %d/%d: %w", i+1, len(docs), err))
		}
	}
	s.logger.Info("Ingested regulation chunks", "count", len(docs), "class", s.cfg.ClassName)
	return nil
}

// Count returns how many objects the class holds; used by status output.
func (s *WeaviateStore) Count(ctx context.Context) (int, error) {
	result, err := s.client.GraphQL().Aggregate().
		WithClassName(s.cfg.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, phi.E(phi.KindRetriever, "retrieval.WeaviateStore.Count", err)
	}
	agg, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	objects, ok := agg[s.cfg.ClassName].([]interface{})
	if !ok || len(objects) == 0 {
		return 0, nil
	}
	m, ok := objects[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := m["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}
