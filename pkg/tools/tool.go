// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools implements the deterministic pre-scan detectors: fast,
// stateless pattern and checksum scanners whose results feed the LLM
// identifier as hints.
//
// Every tool is safe to share across goroutines; all patterns are compiled
// at package init. Positions are byte offsets into the UTF-8 scan text.
package tools

import (
	"sort"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// Tool is one deterministic scanner.
type Tool interface {
	// Name identifies the tool in result metadata and logs.
	Name() string

	// SupportedTypes lists the PHI types this tool can emit.
	SupportedTypes() []phi.Type

	// Scan returns candidate spans found in text. Implementations must be
	// stateless and must not retain text.
	Scan(text string) []phi.ToolResult
}

// DefaultTools returns the shipped scanner set: regex table, Taiwan national
// ID checksum validator, and the phone/fax scanner.
func DefaultTools() []Tool {
	return []Tool{NewRegexTool(), NewIDValidatorTool(), NewPhoneTool()}
}

// MergeResults applies the per-tool overlap rule: sort by (start, -confidence)
// and drop later results whose span overlaps an earlier kept one, unless the
// later result has strictly higher confidence, in which case it replaces the
// kept one.
func MergeResults(results []phi.ToolResult) []phi.ToolResult {
	if len(results) <= 1 {
		return results
	}
	sorted := make([]phi.ToolResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StartPos != sorted[j].StartPos {
			return sorted[i].StartPos < sorted[j].StartPos
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]phi.ToolResult, 0, len(sorted))
	for _, r := range sorted {
		replaced := false
		overlaps := false
		for i := len(kept) - 1; i >= 0; i-- {
			k := kept[i]
			if r.StartPos >= k.EndPos {
				break
			}
			overlaps = true
			if r.Confidence > k.Confidence {
				kept[i] = r
				replaced = true
			}
			break
		}
		if !overlaps {
			kept = append(kept, r)
		} else if replaced {
			// Replacement already stored in place.
			continue
		}
	}
	return kept
}

// ScanAll runs every tool over text and merges each tool's own results, then
// concatenates across tools sorted by start position. Cross-tool overlaps are
// preserved: different tools voting for the same span is useful signal for
// the identifier.
func ScanAll(toolset []Tool, text string) []phi.ToolResult {
	var all []phi.ToolResult
	for _, t := range toolset {
		all = append(all, MergeResults(t.Scan(text))...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].StartPos < all[j].StartPos })
	return all
}

// FilterByConfidence drops results below the threshold. The orchestrator
// applies this before handing hints to the identifier (default 0.60).
func FilterByConfidence(results []phi.ToolResult, min float64) []phi.ToolResult {
	out := results[:0:0]
	for _, r := range results {
		if r.Confidence >= min {
			out = append(out, r)
		}
	}
	return out
}
