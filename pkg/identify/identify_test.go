// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package identify

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SafeHarborAI/safeharbor/pkg/chunk"
	"github.com/SafeHarborAI/safeharbor/pkg/llm"
	"github.com/SafeHarborAI/safeharbor/pkg/phi"
	"github.com/SafeHarborAI/safeharbor/pkg/retrieval"
)

// fakeClient replays a canned reply and records the prompts it saw.
type fakeClient struct {
	reply  string
	err    error
	system string
	user   string
}

func (f *fakeClient) GenerateStructured(_ context.Context, system, user string, _ llm.GenerationParams) (string, error) {
	f.system, f.user = system, user
	return f.reply, f.err
}

func (f *fakeClient) Model() string { return "fake" }

type failingRetriever struct{}

func (failingRetriever) Retrieve(context.Context, string, int) ([]retrieval.Document, error) {
	return nil, phi.Errorf(phi.KindRetriever, "test", "vector store down")
}

func (failingRetriever) GetPHIDefinitions(context.Context, []string) ([]retrieval.Document, error) {
	return nil, phi.Errorf(phi.KindRetriever, "test", "vector store down")
}

func mustChunk(t *testing.T, content string, startPos int64) chunk.Chunk {
	t.Helper()
	return chunk.Chunk{
		Info:    chunk.Info{ChunkID: 0, StartPos: startPos, EndPos: startPos + int64(len(content))},
		Content: content,
	}
}

func newTestIdentifier(t *testing.T, client llm.StructuredClient, retriever retrieval.Retriever, cfg Config) *Identifier {
	t.Helper()
	id, err := NewIdentifier(client, phi.NewRegistry(nil), retriever, nil, cfg, nil)
	require.NoError(t, err)
	return id
}

// =============================================================================
// Prompts
// =============================================================================

func TestBuildSystemPrompt_ListsTypesAndCustomRule(t *testing.T) {
	out := BuildSystemPrompt(phi.NewRegistry(nil), phi.DefaultPromptOptions())

	assert.Contains(t, out, "- NAME:")
	assert.Contains(t, out, "- AGE_OVER_89:")
	assert.Contains(t, out, `"CUSTOM:<short-name>"`)
	assert.NotContains(t, out, "- CUSTOM\n", "meta types are explained, not listed")
}

func TestFormatToolHints_GroupsDedupesAndCaps(t *testing.T) {
	var results []phi.ToolResult
	for i := 0; i < 7; i++ {
		results = append(results, phi.ToolResult{Type: phi.TypePhone, Text: fmt.Sprintf("0912-345-6%02d", i), StartPos: i * 20})
	}
	// Repeat sightings of the first number at later positions.
	for i := 0; i < 4; i++ {
		results = append(results, phi.ToolResult{Type: phi.TypePhone, Text: "0912-345-600", StartPos: 500 + i})
	}
	results = append(results, phi.ToolResult{Type: phi.TypeEmail, Text: "a@b.tw", StartPos: 999})

	out := FormatToolHints(results)
	assert.Contains(t, out, "- EMAIL:")
	assert.Contains(t, out, "- PHONE:")
	assert.Contains(t, out, "(+2 more)", "seven unique numbers leave two past the cap")
	assert.NotContains(t, out, "@500", "duplicate text appears once, at its first position")
	assert.Contains(t, out, `"a@b.tw"@999`)
}

func TestFormatToolHints_EmptyIsEmpty(t *testing.T) {
	assert.Empty(t, FormatToolHints(nil))
}

func TestBuildUserPrompt_SectionsInOrder(t *testing.T) {
	out := BuildUserPrompt("the text", "[HIPAA]\nrules", "hints here")
	require.NotEqual(t, -1, indexOf(out, "Relevant regulation excerpts:"))
	assert.Less(t, indexOf(out, "Relevant regulation excerpts:"), indexOf(out, "hints here"))
	assert.Less(t, indexOf(out, "hints here"), indexOf(out, "Text to analyze:"))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

// =============================================================================
// Response Parsing
// =============================================================================

func TestParseResponse_FencedJSON(t *testing.T) {
	resp, err := ParseResponse("```json\n{\"entities\": [{\"type\": \"NAME\", \"text\": \"王小明\"}]}\n```")
	require.NoError(t, err)
	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "NAME", resp.Entities[0].Type)
}

func TestParseResponse_GarbageIsLLMError(t *testing.T) {
	_, err := ParseResponse("I found no PHI in this text.")
	assert.True(t, phi.IsKind(err, phi.KindLLM))
}

// =============================================================================
// IdentifyChunk
// =============================================================================

func TestIdentifyChunk_RepairsPositionsAndMapsAliases(t *testing.T) {
	content := "病患 王小明 於本院就診"
	client := &fakeClient{
		// Alias type, wrong offsets: both must be repaired locally.
		reply: `{"entities": [{"type": "姓名", "text": "王小明", "start_pos": 2, "end_pos": 5, "confidence": 0.95, "reason": "patient name"}]}`,
	}
	id := newTestIdentifier(t, client, nil, Config{})

	out, err := id.IdentifyChunk(context.Background(), mustChunk(t, content, 0))
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)

	e := out.Entities[0]
	assert.Equal(t, phi.TypeName, e.Type)
	assert.Equal(t, "王小明", e.Text)
	assert.Equal(t, "王小明", content[e.StartPos:e.EndPos])
}

func TestIdentifyChunk_ConvertsToDocumentCoordinates(t *testing.T) {
	content := "call 0912-345-678 now"
	client := &fakeClient{
		reply: `{"entities": [{"type": "PHONE", "text": "0912-345-678", "start_pos": 5, "end_pos": 17, "confidence": 0.9}]}`,
	}
	id := newTestIdentifier(t, client, nil, Config{})

	out, err := id.IdentifyChunk(context.Background(), mustChunk(t, content, 400))
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
	assert.Equal(t, 405, out.Entities[0].StartPos)
	assert.Equal(t, 417, out.Entities[0].EndPos)
}

func TestIdentifyChunk_PromotesChecksumValidID(t *testing.T) {
	content := "ID: A123456789 on file"
	client := &fakeClient{reply: `{"entities": []}`}
	id := newTestIdentifier(t, client, nil, Config{})

	out, err := id.IdentifyChunk(context.Background(), mustChunk(t, content, 0))
	require.NoError(t, err)
	require.NotEmpty(t, out.Entities, "a checksum-valid national ID must not slip through")
	assert.Equal(t, phi.TypeID, out.Entities[0].Type)
	assert.Equal(t, "A123456789", out.Entities[0].Text)
	assert.GreaterOrEqual(t, out.Entities[0].Confidence, 0.95)
}

func TestIdentifyChunk_KeepsUnlocatableSpanAtReportedPositions(t *testing.T) {
	content := "no names here"
	client := &fakeClient{
		reply: `{"entities": [{"type": "NAME", "text": "John Smith", "start_pos": 0, "end_pos": 10, "confidence": 0.8}]}`,
	}
	id := newTestIdentifier(t, client, nil, Config{})

	out, err := id.IdentifyChunk(context.Background(), mustChunk(t, content, 0))
	require.NoError(t, err)
	require.Len(t, out.Entities, 1, "an unlocatable span is kept, not dropped")
	assert.Equal(t, 0, out.Entities[0].StartPos)
	assert.Equal(t, 10, out.Entities[0].EndPos)
	assert.Equal(t, phi.TypeName, out.Entities[0].Type)
}

func TestIdentifyChunk_SynthesizesBareCustomTypeName(t *testing.T) {
	content := "donor code BD-123 on file"
	client := &fakeClient{
		reply: `{"entities": [{"type": "CUSTOM", "text": "BD-123", "start_pos": 11, "end_pos": 17, "confidence": 0.7}]}`,
	}
	id := newTestIdentifier(t, client, nil, Config{})

	out, err := id.IdentifyChunk(context.Background(), mustChunk(t, content, 0))
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
	assert.Equal(t, phi.TypeCustom, out.Entities[0].Type)
	assert.Equal(t, "BD-123", out.Entities[0].CustomTypeName, "a bare CUSTOM gets a name from the span")
}

func TestIdentifyChunk_SynthesizedCustomNameCappedAt50(t *testing.T) {
	long := strings.Repeat("A", 80)
	content := "code " + long + " on file"
	client := &fakeClient{
		reply: fmt.Sprintf(`{"entities": [{"type": "CUSTOM", "text": %q, "start_pos": 5, "end_pos": 85, "confidence": 0.7}]}`, long),
	}
	id := newTestIdentifier(t, client, nil, Config{})

	out, err := id.IdentifyChunk(context.Background(), mustChunk(t, content, 0))
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
	assert.Len(t, out.Entities[0].CustomTypeName, 50)
}

func TestIdentifyChunk_CustomTypeNameFieldHonored(t *testing.T) {
	content := "donor code BD-123 on file"
	client := &fakeClient{
		reply: `{"entities": [{"type": "CUSTOM", "text": "BD-123", "start_pos": 11, "end_pos": 17, "confidence": 0.7,
			"custom_type_name": "BLOOD_DONOR_CODE", "custom_type_description": "Blood donor tracking code."}]}`,
	}
	registry := phi.NewRegistry(nil)
	id, err := NewIdentifier(client, registry, nil, nil, Config{}, nil)
	require.NoError(t, err)

	out, err := id.IdentifyChunk(context.Background(), mustChunk(t, content, 0))
	require.NoError(t, err)
	require.Len(t, out.Entities, 1)
	assert.Equal(t, "BLOOD_DONOR_CODE", out.Entities[0].CustomTypeName)

	custom, ok := registry.LookupCustom("BLOOD_DONOR_CODE")
	require.True(t, ok, "the discovered type lands in the registry")
	assert.Equal(t, "Blood donor tracking code.", custom.Description)
}

func TestIdentifyChunk_ToolHintsReachThePrompt(t *testing.T) {
	content := "傳真: 02-2736-7000"
	client := &fakeClient{reply: `{"entities": []}`}
	id := newTestIdentifier(t, client, nil, Config{})

	_, err := id.IdentifyChunk(context.Background(), mustChunk(t, content, 0))
	require.NoError(t, err)
	assert.Contains(t, client.user, "Deterministic scanners flagged")
	assert.Contains(t, client.user, "Text to analyze:")
}

func TestIdentifyChunk_RetrieverFailureFallsBackToBuiltinContext(t *testing.T) {
	client := &fakeClient{reply: `{"entities": []}`}
	id := newTestIdentifier(t, client, failingRetriever{}, Config{UseRAG: true})

	out, err := id.IdentifyChunk(context.Background(), mustChunk(t, "plain text", 0))
	require.NoError(t, err)
	assert.False(t, out.RAGUsed)
	assert.Contains(t, client.user, "Relevant regulation excerpts:")
	assert.Contains(t, client.user, "Safe Harbor")
}

func TestIdentifyChunk_NoRAGStillCarriesRegulationContext(t *testing.T) {
	client := &fakeClient{reply: `{"entities": []}`}
	id := newTestIdentifier(t, client, nil, Config{})

	out, err := id.IdentifyChunk(context.Background(), mustChunk(t, "plain text", 0))
	require.NoError(t, err)
	assert.False(t, out.RAGUsed)
	assert.Contains(t, client.user, "Relevant regulation excerpts:")
	assert.Contains(t, client.user, "18 identifier categories")
}

func TestIdentifyChunk_RAGContextFlows(t *testing.T) {
	client := &fakeClient{reply: `{"entities": []}`}
	id := newTestIdentifier(t, client, retrieval.NewStaticRetriever(), Config{UseRAG: true})

	out, err := id.IdentifyChunk(context.Background(), mustChunk(t, "patient record", 0))
	require.NoError(t, err)
	assert.True(t, out.RAGUsed)
	assert.Contains(t, client.user, "Relevant regulation excerpts:")
	assert.Contains(t, client.user, "Safe Harbor")
}

func TestIdentifyChunk_ModelGarbageFailsTheChunk(t *testing.T) {
	client := &fakeClient{reply: "definitely not json"}
	id := newTestIdentifier(t, client, nil, Config{})

	_, err := id.IdentifyChunk(context.Background(), mustChunk(t, "text", 0))
	assert.True(t, phi.IsKind(err, phi.KindLLM))
}

// =============================================================================
// Span helpers
// =============================================================================

func TestClampSpan(t *testing.T) {
	s, e := clampSpan(-3, 5, 10)
	assert.Equal(t, 0, s)
	assert.Equal(t, 5, e)

	s, e = clampSpan(8, 2, 10)
	assert.Equal(t, 2, s)
	assert.Equal(t, 8, e)

	s, e = clampSpan(4, 99, 10)
	assert.Equal(t, 4, s)
	assert.Equal(t, 10, e)
}

func TestNearestOccurrence(t *testing.T) {
	content := "ab X cd X ef"

	pos, ok := nearestOccurrence(content, "X", 9)
	require.True(t, ok)
	assert.Equal(t, 8, pos)

	pos, ok = nearestOccurrence(content, "X", 0)
	require.True(t, ok)
	assert.Equal(t, 3, pos)

	_, ok = nearestOccurrence(content, "missing", 0)
	assert.False(t, ok)
}
