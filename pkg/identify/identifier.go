// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package identify

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SafeHarborAI/safeharbor/pkg/chunk"
	"github.com/SafeHarborAI/safeharbor/pkg/llm"
	"github.com/SafeHarborAI/safeharbor/pkg/phi"
	"github.com/SafeHarborAI/safeharbor/pkg/retrieval"
	"github.com/SafeHarborAI/safeharbor/pkg/tools"
)

var tracer = otel.Tracer("safeharbor.identify")

// Config tunes the identification pass.
type Config struct {
	// ConfidenceThreshold filters tool hints before they enter the prompt.
	// Default 0.60.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// PromoteThreshold is the confidence at which a tool result the model
	// missed is promoted to a detection anyway. Checksum-validated IDs
	// land here. Default 0.90.
	PromoteThreshold float64 `yaml:"promote_threshold"`

	// UseRAG enables regulation context retrieval per chunk.
	UseRAG bool `yaml:"use_rag"`

	// RAGTopK is how many regulation snippets to inject. Default 3.
	RAGTopK int `yaml:"rag_top_k"`

	// RAGQueryLimit caps how much chunk text seeds the retrieval query.
	// Default 500 bytes.
	RAGQueryLimit int `yaml:"rag_query_limit"`

	// Prompt controls how the type list renders.
	Prompt phi.PromptOptions `yaml:"-"`

	// Params passes sampling settings to the backend.
	Params llm.GenerationParams `yaml:"-"`
}

// DefaultConfig returns the identification defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.60,
		PromoteThreshold:    0.90,
		RAGTopK:             3,
		RAGQueryLimit:       500,
		Prompt:              phi.DefaultPromptOptions(),
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.PromoteThreshold <= 0 {
		c.PromoteThreshold = d.PromoteThreshold
	}
	if c.RAGTopK <= 0 {
		c.RAGTopK = d.RAGTopK
	}
	if c.RAGQueryLimit <= 0 {
		c.RAGQueryLimit = d.RAGQueryLimit
	}
	if c.Prompt == (phi.PromptOptions{}) {
		c.Prompt = d.Prompt
	}
}

// Identifier orchestrates one chunk's identification pass.
type Identifier struct {
	client    llm.StructuredClient
	registry  *phi.Registry
	retriever retrieval.Retriever
	toolset   []tools.Tool
	cfg       Config
	logger    *slog.Logger
}

// NewIdentifier wires the pass together. retriever may be nil (no RAG);
// toolset nil means tools.DefaultTools().
func NewIdentifier(client llm.StructuredClient, registry *phi.Registry, retriever retrieval.Retriever, toolset []tools.Tool, cfg Config, logger *slog.Logger) (*Identifier, error) {
	if client == nil {
		return nil, phi.Errorf(phi.KindInvalidInput, "identify.NewIdentifier", "llm client must not be nil")
	}
	if registry == nil {
		registry = phi.Default()
	}
	if toolset == nil {
		toolset = tools.DefaultTools()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Identifier{
		client:    client,
		registry:  registry,
		retriever: retriever,
		toolset:   toolset,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// IdentifyChunk is the chunk.ProcessFunc for the streaming pipeline.
//
// # Description
//
// Runs the deterministic scanners, optionally fetches regulation context,
// asks the model for a structured detection, then validates and repairs the
// reply. Retrieval failures degrade to the built-in regulation summary; an
// unusable model reply fails the chunk.
//
// # Outputs
//
// Entities in document coordinates, sorted and deduplicated.
func (id *Identifier) IdentifyChunk(ctx context.Context, c chunk.Chunk) (chunk.Output, error) {
	ctx, span := tracer.Start(ctx, "Identifier.IdentifyChunk")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk.id", c.Info.ChunkID))

	toolResults := tools.ScanAll(id.toolset, c.Content)
	hints := tools.FilterByConfidence(toolResults, id.cfg.ConfidenceThreshold)

	ragContext, ragUsed := id.fetchContext(ctx, c.Content)

	system := BuildSystemPrompt(id.registry, id.cfg.Prompt)
	user := BuildUserPrompt(c.Content, ragContext, FormatToolHints(hints))

	raw, err := id.client.GenerateStructured(ctx, system, user, id.cfg.Params)
	if err != nil {
		return chunk.Output{}, err
	}
	resp, err := ParseResponse(raw)
	if err != nil {
		return chunk.Output{}, err
	}

	entities := id.postProcess(resp.Entities, c.Content)
	entities = id.promoteToolResults(entities, hints)
	phi.SortEntities(entities)
	entities = phi.DedupeEntities(entities)

	// Chunk coordinates become document coordinates at the very end, so
	// every earlier step can compare against the chunk text directly.
	for i := range entities {
		entities[i].StartPos += int(c.Info.StartPos)
		entities[i].EndPos += int(c.Info.StartPos)
	}

	span.SetAttributes(
		attribute.Int("identify.entities", len(entities)),
		attribute.Bool("identify.rag_used", ragUsed),
	)
	return chunk.Output{
		Entities:  entities,
		ToolCalls: len(id.toolset),
		RAGUsed:   ragUsed,
	}, nil
}

// fetchContext returns the regulation context for the prompt: retrieved
// snippets when RAG is on and the store answers, otherwise the built-in
// Safe Harbor summary. The prompt never goes out without a regulation
// section.
func (id *Identifier) fetchContext(ctx context.Context, content string) (string, bool) {
	if id.cfg.UseRAG && id.retriever != nil {
		query := content
		if len(query) > id.cfg.RAGQueryLimit {
			query = query[:id.cfg.RAGQueryLimit]
		}
		docs, err := id.retriever.Retrieve(ctx, query, id.cfg.RAGTopK)
		switch {
		case err != nil:
			id.logger.Warn("regulation retrieval failed, using built-in context", "error", err)
		case len(docs) > 0:
			return retrieval.FormatContext(docs), true
		}
	}
	return retrieval.MinimalContext(), false
}

// postProcess turns raw model entities into validated ones in chunk
// coordinates.
func (id *Identifier) postProcess(raw []rawEntity, content string) []phi.Entity {
	out := make([]phi.Entity, 0, len(raw))
	for _, r := range raw {
		text := r.Text
		if strings.TrimSpace(text) == "" {
			continue
		}

		base, customName := id.resolveType(r, text)
		if base == phi.TypeOther && strings.TrimSpace(r.Type) == "" {
			continue
		}

		start, end := clampSpan(r.StartPos, r.EndPos, len(content))
		if content[start:end] != text {
			if fixed, ok := nearestOccurrence(content, text, start); ok {
				start, end = fixed, fixed+len(text)
			} else {
				// The text appears nowhere in the chunk. Keep the reported
				// span; a false positive over-redacts, a drop under-redacts.
				id.logger.Warn("entity text not found in chunk, keeping reported span",
					"type", r.Type, "start", start, "end", end, "text_len", len(text))
			}
		}

		conf := r.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}

		e := phi.Entity{
			Type:             base,
			Text:             text,
			StartPos:         start,
			EndPos:           end,
			Confidence:       conf,
			Reason:           r.Reason,
			RegulationSource: r.RegulationSource,
			CustomTypeName:   customName,
		}
		if err := e.Validate(); err != nil {
			id.logger.Debug("dropping invalid entity", "error", err)
			continue
		}
		out = append(out, e)
	}
	return out
}

// resolveType maps the raw label to a canonical type. A bare CUSTOM label
// without a category name gets one synthesized from the span text, so the
// detection survives instead of degenerating into an unnamed type.
func (id *Identifier) resolveType(r rawEntity, text string) (phi.Type, string) {
	label := strings.TrimSpace(r.Type)
	if strings.EqualFold(label, string(phi.TypeCustom)) {
		name := strings.TrimSpace(r.CustomTypeName)
		if name == "" {
			name = synthesizeCustomName(text)
			id.logger.Warn("CUSTOM entity without a type name, synthesized one from the span",
				"name_len", len(name))
		}
		id.registry.RecordDiscoveredType(name, r.CustomTypeDescription)
		return phi.TypeCustom, name
	}

	base, customName := id.registry.MapAlias(label)
	if base == phi.TypeCustom && customName == "" {
		customName = strings.TrimSpace(r.CustomTypeName)
		if customName == "" {
			customName = synthesizeCustomName(text)
		}
		id.registry.RecordDiscoveredType(customName, r.CustomTypeDescription)
	}
	return base, customName
}

// synthesizeCustomName derives a category name from the span itself, capped
// at 50 characters.
func synthesizeCustomName(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return string(runes)
}

// promoteToolResults adds high-confidence scanner results the model missed.
// A checksum-valid national ID is a detection whether or not the model
// agrees.
func (id *Identifier) promoteToolResults(entities []phi.Entity, hints []phi.ToolResult) []phi.Entity {
	for _, h := range hints {
		if h.Confidence < id.cfg.PromoteThreshold {
			continue
		}
		covered := false
		for _, e := range entities {
			if h.StartPos < e.EndPos && e.StartPos < h.EndPos {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		entities = append(entities, phi.Entity{
			Type:       h.Type,
			Text:       h.Text,
			StartPos:   h.StartPos,
			EndPos:     h.EndPos,
			Confidence: h.Confidence,
			Reason:     "flagged by " + h.ToolName,
		})
	}
	return entities
}

// clampSpan forces a model-reported span into [0, limit], swapping inverted
// bounds.
func clampSpan(start, end, limit int) (int, int) {
	if start > end {
		start, end = end, start
	}
	if start < 0 {
		start = 0
	}
	if end > limit {
		end = limit
	}
	if start > limit {
		start = limit
	}
	return start, end
}

// nearestOccurrence finds the occurrence of text closest to the claimed
// position. Models routinely miscount offsets in multibyte text; the span
// text itself is the ground truth.
func nearestOccurrence(content, text string, hint int) (int, bool) {
	best, bestDist := -1, 0
	for from := 0; ; {
		idx := strings.Index(content[from:], text)
		if idx < 0 {
			break
		}
		pos := from + idx
		dist := pos - hint
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			best, bestDist = pos, dist
		}
		from = pos + 1
		if from >= len(content) {
			break
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}
