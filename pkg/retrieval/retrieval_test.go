// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatContext(t *testing.T) {
	docs := []Document{
		{Source: "HIPAA §164.514", Content: "Names must be removed."},
		{Source: "PDPA Art. 6", Content: "National ID numbers are sensitive data."},
	}
	out := FormatContext(docs)

	assert.True(t, strings.HasPrefix(out, "[HIPAA §164.514]\n"))
	assert.Contains(t, out, "\n\n[PDPA Art. 6]\n")
	assert.Contains(t, out, "National ID numbers")
}

func TestFormatContext_Empty(t *testing.T) {
	assert.Empty(t, FormatContext(nil))
}

func TestStaticRetriever_ServesSafeHarbor(t *testing.T) {
	r := NewStaticRetriever()

	docs, err := r.Retrieve(context.Background(), "patient ages", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Contains(t, docs[0].Content, "18 identifier categories")
	assert.Contains(t, docs[0].Source, "Safe Harbor")
}

func TestStaticRetriever_KClampedToAvailable(t *testing.T) {
	r := NewStaticRetriever()

	docs, err := r.Retrieve(context.Background(), "anything", 100)
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	docs, err = r.Retrieve(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}

func TestStaticRetriever_ExtraDocsAppended(t *testing.T) {
	r := NewStaticRetriever(Document{Source: "local-policy", Content: "Blood donor codes are identifying."})

	docs, err := r.Retrieve(context.Background(), "codes", 0)
	require.NoError(t, err)
	assert.Equal(t, "local-policy", docs[len(docs)-1].Source)
}

func TestStaticRetriever_GetPHIDefinitions(t *testing.T) {
	r := NewStaticRetriever(Document{Source: "local-policy", Content: "Blood donor codes are identifying."})

	docs, err := r.GetPHIDefinitions(context.Background(), []string{"NAME", "DATE"})
	require.NoError(t, err)
	assert.Len(t, docs, 4, "the built-in set answers any type lookup in full")
	assert.Equal(t, "local-policy", docs[len(docs)-1].Source)
}

func TestMinimalContext_CoversSafeHarbor(t *testing.T) {
	out := MinimalContext()
	assert.Contains(t, out, "[HIPAA §164.514(b)(2) Safe Harbor]")
	assert.Contains(t, out, "18 identifier categories")
	assert.Contains(t, out, "90 or older")
}

func TestRegulationSchema(t *testing.T) {
	class := regulationSchema("Regulation")
	assert.Equal(t, "Regulation", class.Class)

	names := make([]string, 0, len(class.Properties))
	for _, p := range class.Properties {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"content", "source", "ingested_at"}, names)
}

func TestWeaviateConfigDefaults(t *testing.T) {
	cfg := WeaviateConfig{Host: "weaviate:8080"}
	cfg.applyDefaults()
	assert.Equal(t, "http", cfg.Scheme)
	assert.Equal(t, RegulationClassName, cfg.ClassName)
	assert.Equal(t, 10, cfg.MaxResults)
}

func TestSplitterFor_MarkdownVsPlain(t *testing.T) {
	md := splitterFor("hipaa.md")
	txt := splitterFor("hipaa.txt")
	assert.NotNil(t, md)
	assert.NotNil(t, txt)

	chunks, err := txt.SplitText(strings.Repeat("Regulated sentence. ", 200))
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
}
