// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package evaluation scores predicted PHI spans against ground truth:
// precision, recall, and F1, overall and per type, under exact, partial, or
// overlap matching.
package evaluation

import (
	"sort"
	"strings"
	"time"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// Mode selects how predictions are matched to ground truth.
type Mode string

const (
	// ModeExact requires equal normalized text and equal normalized type.
	ModeExact Mode = "exact"
	// ModePartial requires containment either way (case-folded) and equal
	// normalized type.
	ModePartial Mode = "partial"
	// ModeOverlap requires containment either way, type ignored.
	ModeOverlap Mode = "overlap"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeExact, ModePartial, ModeOverlap:
		return Mode(s), nil
	default:
		return "", phi.Errorf(phi.KindInvalidInput, "evaluation.ParseMode",
			"unknown match mode %q (want exact, partial, or overlap)", s)
	}
}

// Pair is one labeled span, the unit both sides of an evaluation share.
type Pair struct {
	Text string `json:"text"`
	Type string `json:"type"`
}

// typeNormalization folds label spellings that differ between annotation
// sets into the canonical enum.
var typeNormalization = map[string]string{
	"PATIENT":        "NAME",
	"PERSON":         "NAME",
	"DOCTOR":         "NAME",
	"DOB":            "DATE",
	"BIRTHDATE":      "DATE",
	"ADMISSION_DATE": "DATE",
	"TELEPHONE":      "PHONE",
	"MOBILE":         "PHONE",
	"CELLPHONE":      "PHONE",
	"ADDRESS":        "LOCATION",
	"CITY":           "LOCATION",
	"HOSPITAL":       "HOSPITAL_NAME",
	"MRN":            "MEDICAL_RECORD_NUMBER",
	"RECORD_NUMBER":  "MEDICAL_RECORD_NUMBER",
	"NATIONAL_ID":    "ID",
	"ID_NUMBER":      "ID",
	"E-MAIL":         "EMAIL",
	"AGE":            "AGE_OVER_89",
}

// NormalizeType maps an annotation label to its canonical spelling.
func NormalizeType(raw string) string {
	t := strings.ToUpper(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, " ", "_")
	if canonical, ok := typeNormalization[t]; ok {
		return canonical
	}
	return t
}

// normalizeText case-folds and collapses interior whitespace, so "John
// Smith" and "john  smith" compare equal in exact mode.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// matches applies the mode's matching rule to one candidate pairing.
func matches(pred, truth Pair, mode Mode) bool {
	pt, tt := normalizeText(pred.Text), normalizeText(truth.Text)
	if pt == "" || tt == "" {
		return false
	}
	textOK := false
	switch mode {
	case ModeExact:
		textOK = pt == tt
	default:
		textOK = strings.Contains(pt, tt) || strings.Contains(tt, pt)
	}
	if !textOK {
		return false
	}
	if mode == ModeOverlap {
		return true
	}
	return NormalizeType(pred.Type) == NormalizeType(truth.Type)
}

// =============================================================================
// Metrics
// =============================================================================

// Metrics is one confusion cell with its derived rates.
type Metrics struct {
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// compute fills the derived rates. Empty denominators score zero.
func (m *Metrics) compute() {
	if m.TP+m.FP > 0 {
		m.Precision = float64(m.TP) / float64(m.TP+m.FP)
	}
	if m.TP+m.FN > 0 {
		m.Recall = float64(m.TP) / float64(m.TP+m.FN)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
}

// Sample pairs one document's predictions with its ground truth.
type Sample struct {
	ID          string `json:"id,omitempty"`
	Predictions []Pair `json:"predictions"`
	Truth       []Pair `json:"truth"`
}

// SampleResult is the per-sample confusion detail.
type SampleResult struct {
	ID             string  `json:"id,omitempty"`
	Metrics        Metrics `json:"metrics"`
	FalsePositives []Pair  `json:"false_positives,omitempty"`
	FalseNegatives []Pair  `json:"false_negatives,omitempty"`
}

// Report is the full evaluation output.
type Report struct {
	Mode        Mode               `json:"mode"`
	Overall     Metrics            `json:"overall"`
	PerType     map[string]Metrics `json:"per_type"`
	Samples     []SampleResult     `json:"samples"`
	NumSample   int                `json:"num_samples"`
	GeneratedAt time.Time          `json:"generated_at"`
	ElapsedMS   float64            `json:"elapsed_ms"`
}

// Evaluate scores every sample and aggregates.
//
// Matching is greedy one-to-one: each prediction consumes at most one truth
// span and vice versa, so a model cannot inflate recall by repeating one
// correct answer.
func Evaluate(samples []Sample, mode Mode) Report {
	started := time.Now()
	report := Report{
		Mode:        mode,
		PerType:     make(map[string]Metrics),
		NumSample:   len(samples),
		GeneratedAt: started.UTC(),
	}

	for _, sample := range samples {
		sr := evaluateSample(sample, mode, report.PerType)
		report.Overall.TP += sr.Metrics.TP
		report.Overall.FP += sr.Metrics.FP
		report.Overall.FN += sr.Metrics.FN
		report.Samples = append(report.Samples, sr)
	}

	report.Overall.compute()
	for t, m := range report.PerType {
		m.compute()
		report.PerType[t] = m
	}
	report.ElapsedMS = float64(time.Since(started).Microseconds()) / 1000.0
	return report
}

func evaluateSample(sample Sample, mode Mode, perType map[string]Metrics) SampleResult {
	sr := SampleResult{ID: sample.ID}
	used := make([]bool, len(sample.Truth))

	for _, pred := range sample.Predictions {
		matched := -1
		for i, truth := range sample.Truth {
			if used[i] {
				continue
			}
			if matches(pred, truth, mode) {
				matched = i
				break
			}
		}
		if matched >= 0 {
			used[matched] = true
			sr.Metrics.TP++
			bump(perType, NormalizeType(sample.Truth[matched].Type), func(m *Metrics) { m.TP++ })
		} else {
			sr.Metrics.FP++
			sr.FalsePositives = append(sr.FalsePositives, pred)
			bump(perType, NormalizeType(pred.Type), func(m *Metrics) { m.FP++ })
		}
	}
	for i, truth := range sample.Truth {
		if !used[i] {
			sr.Metrics.FN++
			sr.FalseNegatives = append(sr.FalseNegatives, truth)
			bump(perType, NormalizeType(truth.Type), func(m *Metrics) { m.FN++ })
		}
	}

	sr.Metrics.compute()
	return sr
}

func bump(perType map[string]Metrics, t string, f func(*Metrics)) {
	m := perType[t]
	f(&m)
	perType[t] = m
}

// TypesSorted returns the per-type keys in stable order for display.
func (r Report) TypesSorted() []string {
	out := make([]string, 0, len(r.PerType))
	for t := range r.PerType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Efficiency Score
// =============================================================================

// EfficiencyScore folds detection speed and prompt length into F1 for the
// optimizer: F1 * (0.7 + 0.15*min(1, tMax/tMeasured) + 0.15*min(1,
// lMax/lMeasured)). A run at or under both budgets keeps its full F1.
func EfficiencyScore(f1, tMax, tMeasured, lMax, lMeasured float64) float64 {
	return f1 * (0.7 + 0.15*ratioCap(tMax, tMeasured) + 0.15*ratioCap(lMax, lMeasured))
}

func ratioCap(budget, measured float64) float64 {
	if measured <= 0 {
		return 1
	}
	r := budget / measured
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

// PairsFromEntities projects detected entities onto evaluation pairs,
// using the concrete custom name for CUSTOM entities.
func PairsFromEntities(entities []phi.Entity) []Pair {
	out := make([]Pair, 0, len(entities))
	for _, e := range entities {
		label := string(e.Type)
		if e.Type == phi.TypeCustom && e.CustomTypeName != "" {
			label = e.CustomTypeName
		}
		out = append(out, Pair{Text: e.Text, Type: label})
	}
	return out
}
