// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"regexp"
	"strings"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

var (
	// Taiwan number shapes: mobile first so it wins overlap merging against
	// the looser landline shape at the same start position.
	mobilePattern        = regexp.MustCompile(`09\d{2}[-\s]?\d{3}[-\s]?\d{3}`)
	landlinePattern      = regexp.MustCompile(`0\d{1,2}[-\s]?\d{3,4}[-\s]?\d{4}`)
	internationalPattern = regexp.MustCompile(`\+886[-\s]?9?\d{1,2}[-\s]?\d{3,4}[-\s]?\d{3,4}`)

	// contextKeywords boost confidence when seen shortly before a number.
	contextKeywords = regexp.MustCompile(`(?i)(電話|手機|聯絡|phone|tel|mobile|fax|傳真)`)

	// faxKeywords relabel a match as FAX.
	faxKeywords = regexp.MustCompile(`(?i)(fax|傳真)`)

	nonDigits = regexp.MustCompile(`\D`)
)

// contextWindow is how many bytes of preceding text are inspected for
// contact keywords.
const contextWindow = 20

// PhoneTool scans for Taiwan landline, mobile, and international numbers,
// using preceding context to boost confidence and to distinguish FAX lines.
type PhoneTool struct{}

// NewPhoneTool returns the phone/fax scanner.
func NewPhoneTool() *PhoneTool { return &PhoneTool{} }

func (t *PhoneTool) Name() string { return "phone" }

func (t *PhoneTool) SupportedTypes() []phi.Type { return []phi.Type{phi.TypePhone, phi.TypeFax} }

type phoneShape struct {
	re         *regexp.Regexp
	confidence float64
	kind       string
}

var phoneShapes = []phoneShape{
	{re: mobilePattern, confidence: 0.90, kind: "mobile"},
	{re: internationalPattern, confidence: 0.90, kind: "international"},
	{re: landlinePattern, confidence: 0.85, kind: "landline"},
}

// Scan emits PHONE/FAX results. Confidence rises by 0.05 when the preceding
// contextWindow bytes contain a contact keyword; the label flips to FAX when
// that context mentions fax. The digits-only form is stored in metadata.
func (t *PhoneTool) Scan(text string) []phi.ToolResult {
	var results []phi.ToolResult
	for _, shape := range phoneShapes {
		for _, loc := range shape.re.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			confidence := shape.confidence
			typ := phi.TypePhone

			ctxStart := loc[0] - contextWindow
			if ctxStart < 0 {
				ctxStart = 0
			}
			// Clamp to a rune boundary so the slice stays valid UTF-8.
			for ctxStart > 0 && !utf8RuneStart(text[ctxStart]) {
				ctxStart--
			}
			preceding := text[ctxStart:loc[0]]
			if contextKeywords.MatchString(preceding) {
				confidence += 0.05
			}
			if faxKeywords.MatchString(preceding) {
				typ = phi.TypeFax
			}
			if confidence > 1 {
				confidence = 1
			}

			results = append(results, phi.ToolResult{
				Text:       match,
				Type:       typ,
				StartPos:   loc[0],
				EndPos:     loc[1],
				Confidence: confidence,
				ToolName:   t.Name(),
				Metadata: map[string]string{
					"normalized": nonDigits.ReplaceAllString(strings.TrimPrefix(match, "+"), ""),
					"shape":      shape.kind,
				},
			})
		}
	}
	return results
}

// utf8RuneStart reports whether b can begin a UTF-8 encoded rune.
func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
