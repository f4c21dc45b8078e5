// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package identify runs per-chunk PHI identification: deterministic tool
// scans feed hints into a structured LLM prompt, the model's JSON reply is
// validated and repaired, and the surviving entities come back in document
// coordinates.
package identify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// maxHintSamples caps how many example spans a single type contributes to
// the tool-hint block. More adds tokens without adding signal.
const maxHintSamples = 5

// BuildSystemPrompt renders the identification instructions with the
// registry's current type list. Pure: same registry state, same string.
func BuildSystemPrompt(registry *phi.Registry, opts phi.PromptOptions) string {
	var b strings.Builder
	b.WriteString(`You are a medical privacy analyst. Identify every span of protected health information (PHI) in the text the user provides.

Recognized PHI types:
`)
	b.WriteString(registry.TypesForPrompt(opts))
	b.WriteString(`
For a category that fits none of the listed types, use "CUSTOM:<short-name>" with an upper-case snake_case name. Use "OTHER" only as a last resort.

Respond with exactly one JSON object, no prose, in this shape:
{
  "entities": [
    {
      "type": "<one of the listed types>",
      "text": "<the exact span copied verbatim from the input>",
      "start_pos": <byte offset where the span starts>,
      "end_pos": <byte offset just past the span>,
      "confidence": <0.0 to 1.0>,
      "reason": "<one short sentence>",
      "regulation_source": "<citation if a regulation excerpt applies, else omit>",
      "custom_type_name": "<for CUSTOM entities, the category name; else omit>",
      "custom_type_description": "<for CUSTOM entities, one sentence describing the category; else omit>"
    }
  ]
}

Rules:
- "text" must be copied character-for-character from the input, never paraphrased.
- Report every occurrence, including duplicates at different positions.
- An empty input or an input without PHI yields {"entities": []}.`)
	return b.String()
}

// FormatToolHints renders deterministic scanner output for the prompt,
// grouped by type and deduplicated by text, with at most maxHintSamples
// examples each. Returns "" when there are no hints.
func FormatToolHints(results []phi.ToolResult) string {
	if len(results) == 0 {
		return ""
	}

	byType := make(map[phi.Type][]phi.ToolResult)
	for _, r := range results {
		byType[r.Type] = append(byType[r.Type], r)
	}
	types := make([]phi.Type, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var b strings.Builder
	b.WriteString("Deterministic scanners flagged these candidate spans (verify, correct, or reject each):\n")
	for _, t := range types {
		// Repeat sightings of one value must not crowd out distinct ones.
		group := byType[t]
		seen := make(map[string]bool, len(group))
		uniq := group[:0:0]
		for _, r := range group {
			if seen[r.Text] {
				continue
			}
			seen[r.Text] = true
			uniq = append(uniq, r)
		}

		fmt.Fprintf(&b, "- %s:", t)
		for i, r := range uniq {
			if i >= maxHintSamples {
				fmt.Fprintf(&b, " (+%d more)", len(uniq)-maxHintSamples)
				break
			}
			fmt.Fprintf(&b, " %q@%d", r.Text, r.StartPos)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// BuildUserPrompt assembles the per-chunk message: optional regulation
// context, optional tool hints, then the text itself.
func BuildUserPrompt(chunkText, regulationContext, toolHints string) string {
	var b strings.Builder
	if regulationContext != "" {
		b.WriteString("Relevant regulation excerpts:\n")
		b.WriteString(regulationContext)
		b.WriteString("\n\n")
	}
	if toolHints != "" {
		b.WriteString(toolHints)
		b.WriteString("\n")
	}
	b.WriteString("Text to analyze:\n")
	b.WriteString(chunkText)
	return b.String()
}
