// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval supplies regulation context for identification prompts.
// The primary store is Weaviate; when it is unreachable the pipeline falls
// back to a built-in summary of the HIPAA Safe Harbor identifiers, so a
// retrieval failure can degrade quality but never abort a job.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("safeharbor.retrieval")

// Document is one retrieved regulation snippet.
type Document struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score,omitempty"`
}

// Retriever finds regulation snippets relevant to a piece of text.
type Retriever interface {
	// Retrieve returns up to k snippets ranked by relevance. Errors carry
	// KindRetriever and are advisory: callers continue with the built-in
	// context.
	Retrieve(ctx context.Context, query string, k int) ([]Document, error)

	// GetPHIDefinitions returns regulation snippets defining the given PHI
	// type names, the bulk type-oriented counterpart of Retrieve.
	GetPHIDefinitions(ctx context.Context, types []string) ([]Document, error)
}

// FormatContext renders snippets for prompt injection, one block per
// document: "[source]" on its own line, then the content.
func FormatContext(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s]\n%s", d.Source, strings.TrimSpace(d.Content))
	}
	return b.String()
}

// MinimalContext returns the built-in Safe Harbor summary formatted for
// prompt injection, used whenever no store-backed context is available.
func MinimalContext() string {
	return FormatContext(safeHarborDocs)
}

// =============================================================================
// Built-in Fallback
// =============================================================================

// safeHarborDocs is the minimal regulation context served when no vector
// store is configured or reachable: the HIPAA Safe Harbor identifier
// categories, abbreviated to what helps an identification prompt.
var safeHarborDocs = []Document{
	{
		Source: "HIPAA §164.514(b)(2) Safe Harbor",
		Content: "De-identification requires removal of 18 identifier categories: " +
			"names; geographic subdivisions smaller than a state; all elements of dates " +
			"(except year) directly related to an individual, and all ages over 89; " +
			"telephone numbers; fax numbers; email addresses; social security numbers; " +
			"medical record numbers; health plan beneficiary numbers; account numbers; " +
			"certificate or license numbers; vehicle identifiers including license plates; " +
			"device identifiers and serial numbers; URLs; IP addresses; biometric " +
			"identifiers; full-face photographs; and any other unique identifying number, " +
			"characteristic, or code.",
	},
	{
		Source: "HIPAA §164.514(b)(2) Safe Harbor - dates and ages",
		Content: "Dates must be reduced to the year alone. Ages of 90 and above must be " +
			"aggregated into a single category of 90 or older, because exact advanced ages " +
			"are identifying in small populations.",
	},
	{
		Source: "HIPAA §164.514(b)(2) Safe Harbor - geography",
		Content: "Geographic detail finer than a state is identifying, including street " +
			"address, city, county, precinct, and full ZIP code. The initial three digits " +
			"of a ZIP code may be retained when the area contains more than 20,000 people.",
	},
}

// StaticRetriever serves the built-in regulation snippets. It never errors.
type StaticRetriever struct {
	docs []Document
}

// NewStaticRetriever returns the fallback retriever. Extra documents, if
// given, are appended after the built-in Safe Harbor set.
func NewStaticRetriever(extra ...Document) *StaticRetriever {
	docs := make([]Document, 0, len(safeHarborDocs)+len(extra))
	docs = append(docs, safeHarborDocs...)
	docs = append(docs, extra...)
	return &StaticRetriever{docs: docs}
}

// Retrieve implements Retriever. Ranking is positional: the built-in set is
// already ordered most-general first.
func (s *StaticRetriever) Retrieve(_ context.Context, _ string, k int) ([]Document, error) {
	if k <= 0 || k > len(s.docs) {
		k = len(s.docs)
	}
	out := make([]Document, k)
	copy(out, s.docs[:k])
	return out, nil
}

// GetPHIDefinitions implements Retriever. The built-in set is not indexed by
// type, so any lookup answers with the full summary.
func (s *StaticRetriever) GetPHIDefinitions(_ context.Context, _ []string) ([]Document, error) {
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out, nil
}
