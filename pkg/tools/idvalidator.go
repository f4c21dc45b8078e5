// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"regexp"
	"strconv"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

var (
	nationalIDPattern = regexp.MustCompile(`[A-Z][12]\d{8}`)
	arcPattern        = regexp.MustCompile(`[A-Z]{2}\d{8}`)
)

// idLetterValues is the published letter-to-number table for the Taiwan
// national ID: each leading letter expands to two digits d1 d2.
var idLetterValues = map[byte]int{
	'A': 10, 'B': 11, 'C': 12, 'D': 13, 'E': 14, 'F': 15, 'G': 16, 'H': 17,
	'I': 34, 'J': 18, 'K': 19, 'L': 20, 'M': 21, 'N': 22, 'O': 35, 'P': 23,
	'Q': 24, 'R': 25, 'S': 26, 'T': 27, 'U': 28, 'V': 29, 'W': 32, 'X': 30,
	'Y': 31, 'Z': 33,
}

// idWeights applies to the expanded 11-digit sequence d1 d2 n1..n9.
var idWeights = [11]int{1, 9, 8, 7, 6, 5, 4, 3, 2, 1, 1}

// ValidateTaiwanID verifies the national ID checksum: expand the letter via
// the published table, weight the 11 digits, and require the sum to be
// divisible by 10.
func ValidateTaiwanID(id string) bool {
	if len(id) != 10 {
		return false
	}
	letterValue, ok := idLetterValues[id[0]]
	if !ok {
		return false
	}
	digits := make([]int, 0, 11)
	digits = append(digits, letterValue/10, letterValue%10)
	for i := 1; i < 10; i++ {
		d, err := strconv.Atoi(string(id[i]))
		if err != nil {
			return false
		}
		digits = append(digits, d)
	}
	sum := 0
	for i, d := range digits {
		sum += d * idWeights[i]
	}
	return sum%10 == 0
}

// IDValidatorTool flags Taiwan national ID and ARC shapes, raising confidence
// to 0.99 when the national ID checksum verifies.
type IDValidatorTool struct{}

// NewIDValidatorTool returns the checksum-backed ID scanner.
func NewIDValidatorTool() *IDValidatorTool { return &IDValidatorTool{} }

func (t *IDValidatorTool) Name() string { return "id_validator" }

func (t *IDValidatorTool) SupportedTypes() []phi.Type { return []phi.Type{phi.TypeID} }

// Scan emits an ID result per national ID shape (checksum-scored) and per ARC
// shape. Metadata records checksum_valid so downstream consumers can rank
// shape-only matches below verified ones.
func (t *IDValidatorTool) Scan(text string) []phi.ToolResult {
	var results []phi.ToolResult

	for _, loc := range nationalIDPattern.FindAllStringIndex(text, -1) {
		candidate := text[loc[0]:loc[1]]
		valid := ValidateTaiwanID(candidate)
		confidence := 0.70
		if valid {
			confidence = 0.99
		}
		results = append(results, phi.ToolResult{
			Text:       candidate,
			Type:       phi.TypeID,
			StartPos:   loc[0],
			EndPos:     loc[1],
			Confidence: confidence,
			ToolName:   t.Name(),
			Metadata:   map[string]string{"checksum_valid": strconv.FormatBool(valid), "id_kind": "national_id"},
		})
	}

	for _, loc := range arcPattern.FindAllStringIndex(text, -1) {
		candidate := text[loc[0]:loc[1]]
		// National ID shape is a subset of two-letter prefixes only when the
		// second character is a letter, so the two patterns never overlap.
		results = append(results, phi.ToolResult{
			Text:       candidate,
			Type:       phi.TypeID,
			StartPos:   loc[0],
			EndPos:     loc[1],
			Confidence: 0.70,
			ToolName:   t.Name(),
			Metadata:   map[string]string{"checksum_valid": "false", "id_kind": "arc"},
		})
	}
	return results
}
