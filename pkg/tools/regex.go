// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"regexp"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// typedPattern pairs one compiled expression with the confidence assigned to
// its matches.
type typedPattern struct {
	re         *regexp.Regexp
	confidence float64
}

// regexTable maps PHI types to their pattern sets. Compiled once at init;
// read-only afterwards, so the tool is freely shareable.
var regexTable = map[phi.Type][]typedPattern{
	phi.TypeID: {
		// Taiwan national ID shape. Checksum verification is the ID
		// validator tool's job; this entry only flags the shape.
		{re: regexp.MustCompile(`[A-Z][12]\d{8}`), confidence: 0.70},
	},
	phi.TypeEmail: {
		{re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), confidence: 0.92},
	},
	phi.TypeURL: {
		{re: regexp.MustCompile(`https?://[^\s<>"']+`), confidence: 0.90},
		{re: regexp.MustCompile(`\bwww\.[^\s<>"']+`), confidence: 0.80},
	},
	phi.TypeIPAddress: {
		{re: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), confidence: 0.80},
		{re: regexp.MustCompile(`\b(?:[0-9A-Fa-f]{1,4}:){2,7}[0-9A-Fa-f]{1,4}\b`), confidence: 0.70},
	},
	phi.TypeDate: {
		// ISO / slash dates: 2024-01-15, 2024/1/15.
		{re: regexp.MustCompile(`\b\d{4}[-/]\d{1,2}[-/]\d{1,2}\b`), confidence: 0.80},
		// US style: 1/15/2024.
		{re: regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`), confidence: 0.75},
		// CJK calendar dates, both 民國 and 西元 eras.
		{re: regexp.MustCompile(`(?:民國|西元)?\s?\d{1,4}\s?年\s?\d{1,2}\s?月\s?\d{1,2}\s?日?`), confidence: 0.85},
		// English long form: January 15, 2024.
		{re: regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},?\s+\d{4}\b`), confidence: 0.80},
	},
	phi.TypeMedicalRecordNumber: {
		{re: regexp.MustCompile(`(?i)(?:MRN|病歷號碼|病歷號)[::\s#]*[A-Z0-9\-]{5,12}`), confidence: 0.80},
	},
	phi.TypeAccountNumber: {
		{re: regexp.MustCompile(`(?i)(?:account(?:\s+(?:no|number))?|帳號)[::\s#]*\d{6,16}`), confidence: 0.70},
	},
}

// RegexTool scans with the precompiled pattern table and reports group-0
// spans.
type RegexTool struct{}

// NewRegexTool returns the shared-table regex scanner.
func NewRegexTool() *RegexTool { return &RegexTool{} }

func (t *RegexTool) Name() string { return "regex" }

func (t *RegexTool) SupportedTypes() []phi.Type {
	out := make([]phi.Type, 0, len(regexTable))
	for typ := range regexTable {
		out = append(out, typ)
	}
	return out
}

// Scan returns one ToolResult per match, span and text from match group 0.
func (t *RegexTool) Scan(text string) []phi.ToolResult {
	var results []phi.ToolResult
	for typ, patterns := range regexTable {
		for _, p := range patterns {
			for _, loc := range p.re.FindAllStringIndex(text, -1) {
				results = append(results, phi.ToolResult{
					Text:       text[loc[0]:loc[1]],
					Type:       typ,
					StartPos:   loc[0],
					EndPos:     loc[1],
					Confidence: p.confidence,
					ToolName:   t.Name(),
				})
			}
		}
	}
	return results
}
