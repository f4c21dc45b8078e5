// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package masking

import (
	"regexp"
	"strconv"
	"time"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// dateLayouts are tried in order when parsing a span.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006/1/2",
	"01/02/2006",
	"1/2/2006",
	"2006年01月02日",
	"2006年1月2日",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"2006-01-02 15:04:05",
}

// rocDatePattern matches Minguo-era dates (民國75年3月12日); the year offset
// to the Gregorian calendar is 1911.
var rocDatePattern = regexp.MustCompile(`民國\s?(\d{1,3})\s?年\s?(\d{1,2})\s?月\s?(\d{1,2})\s?日?`)

// parseDate attempts the known layouts plus the Minguo form.
func parseDate(text string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	if m := rocDatePattern.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			return time.Date(year+1911, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// DateShifting shifts parsed dates by a per-document day offset and reformats
// them as YYYY-MM-DD. Unparseable spans fall back to "[DATE]".
//
// The offset is either FixedOffset, or drawn once per document uniformly from
// [OffsetRange[0], OffsetRange[1]] using the document RNG, which the engine
// seeds from its configuration. A fixed seed therefore yields the same offset
// run after run.
//
// When PreserveYear is set the year component is kept and the day-of-year is
// shifted instead, clamped at the year boundaries. The upstream flag read the
// same way but let offsets cross years; the stated intent wins here.
type DateShifting struct {
	FixedOffset  *int
	OffsetRange  [2]int
	PreserveYear bool
}

// NewDateShifting draws offsets from ±365 days by default.
func NewDateShifting() *DateShifting {
	return &DateShifting{OffsetRange: [2]int{-365, 365}}
}

func (s *DateShifting) Name() string { return "date_shifting" }

// offsetFor resolves the document-level offset, drawing it on first use.
func (s *DateShifting) offsetFor(doc *DocumentState) int {
	if s.FixedOffset != nil {
		return *s.FixedOffset
	}
	if doc == nil {
		return 0
	}
	if doc.dateOffset == nil {
		lo, hi := s.OffsetRange[0], s.OffsetRange[1]
		if hi < lo {
			lo, hi = hi, lo
		}
		off := lo
		if hi > lo {
			off = lo + doc.rng.Intn(hi-lo+1)
		}
		doc.dateOffset = &off
	}
	return *doc.dateOffset
}

func (s *DateShifting) Mask(e phi.Entity, doc *DocumentState) string {
	parsed, ok := parseDate(e.Text)
	if !ok {
		return "[DATE]"
	}
	offset := s.offsetFor(doc)
	shifted := parsed.AddDate(0, 0, offset)
	if s.PreserveYear && shifted.Year() != parsed.Year() {
		if shifted.Year() > parsed.Year() {
			shifted = time.Date(parsed.Year(), 12, 31, 0, 0, 0, 0, time.UTC)
		} else {
			shifted = time.Date(parsed.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		}
	}
	return shifted.Format("2006-01-02")
}
