// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evaluation

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, "NAME", NormalizeType("PATIENT"))
	assert.Equal(t, "NAME", NormalizeType("patient"))
	assert.Equal(t, "DATE", NormalizeType("DOB"))
	assert.Equal(t, "PHONE", NormalizeType("Telephone"))
	assert.Equal(t, "MEDICAL_RECORD_NUMBER", NormalizeType("MRN"))
	assert.Equal(t, "NAME", NormalizeType("NAME"), "canonical labels pass through")
	assert.Equal(t, "BLOOD_DONOR_CODE", NormalizeType("blood donor code"))
}

func TestMatches_Modes(t *testing.T) {
	tests := []struct {
		name  string
		pred  Pair
		truth Pair
		mode  Mode
		want  bool
	}{
		{"exact hit", Pair{"王小明", "NAME"}, Pair{"王小明", "PATIENT"}, ModeExact, true},
		{"exact case fold", Pair{"John  Smith", "NAME"}, Pair{"john smith", "NAME"}, ModeExact, true},
		{"exact text miss", Pair{"王小", "NAME"}, Pair{"王小明", "NAME"}, ModeExact, false},
		{"exact type miss", Pair{"王小明", "DATE"}, Pair{"王小明", "NAME"}, ModeExact, false},
		{"partial containment", Pair{"王小", "NAME"}, Pair{"王小明", "NAME"}, ModePartial, true},
		{"partial reversed", Pair{"Dr. John Smith", "NAME"}, Pair{"john smith", "NAME"}, ModePartial, true},
		{"partial type still matters", Pair{"王小", "DATE"}, Pair{"王小明", "NAME"}, ModePartial, false},
		{"overlap ignores type", Pair{"王小", "DATE"}, Pair{"王小明", "NAME"}, ModeOverlap, true},
		{"overlap disjoint text", Pair{"abc", "NAME"}, Pair{"xyz", "NAME"}, ModeOverlap, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matches(tt.pred, tt.truth, tt.mode))
		})
	}
}

func TestEvaluate_MetricsAndPerType(t *testing.T) {
	samples := []Sample{{
		ID: "doc-1",
		Predictions: []Pair{
			{"王小明", "NAME"},       // TP
			{"0912-345-678", "PHONE"}, // TP
			{"台北市", "LOCATION"},   // FP
		},
		Truth: []Pair{
			{"王小明", "PATIENT"},
			{"0912-345-678", "TELEPHONE"},
			{"A123456789", "NATIONAL_ID"}, // FN
		},
	}}

	report := Evaluate(samples, ModeExact)

	assert.Equal(t, 2, report.Overall.TP)
	assert.Equal(t, 1, report.Overall.FP)
	assert.Equal(t, 1, report.Overall.FN)
	assert.InDelta(t, 2.0/3.0, report.Overall.Precision, 1e-9)
	assert.InDelta(t, 2.0/3.0, report.Overall.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, report.Overall.F1, 1e-9)

	assert.Equal(t, 1, report.PerType["NAME"].TP)
	assert.Equal(t, 1, report.PerType["PHONE"].TP)
	assert.Equal(t, 1, report.PerType["LOCATION"].FP)
	assert.Equal(t, 1, report.PerType["ID"].FN)

	require.Len(t, report.Samples, 1)
	assert.Equal(t, []Pair{{"台北市", "LOCATION"}}, report.Samples[0].FalsePositives)
	assert.Equal(t, []Pair{{"A123456789", "NATIONAL_ID"}}, report.Samples[0].FalseNegatives)

	assert.False(t, report.GeneratedAt.IsZero(), "reports carry their wall-clock context")
	assert.GreaterOrEqual(t, report.ElapsedMS, 0.0)
}

func TestEvaluate_GreedyOneToOne(t *testing.T) {
	samples := []Sample{{
		Predictions: []Pair{{"王小明", "NAME"}, {"王小明", "NAME"}},
		Truth:       []Pair{{"王小明", "NAME"}},
	}}
	report := Evaluate(samples, ModeExact)

	assert.Equal(t, 1, report.Overall.TP, "a truth span matches at most once")
	assert.Equal(t, 1, report.Overall.FP)
	assert.Equal(t, 0, report.Overall.FN)
}

func TestEvaluate_ExactModeSymmetry(t *testing.T) {
	preds := []Pair{{"a", "NAME"}, {"b", "DATE"}, {"c", "PHONE"}}
	truth := []Pair{{"a", "NAME"}, {"d", "DATE"}}

	fwd := Evaluate([]Sample{{Predictions: preds, Truth: truth}}, ModeExact)
	rev := Evaluate([]Sample{{Predictions: truth, Truth: preds}}, ModeExact)

	assert.Equal(t, fwd.Overall.TP, rev.Overall.TP)
	assert.Equal(t, fwd.Overall.FP, rev.Overall.FN)
	assert.Equal(t, fwd.Overall.FN, rev.Overall.FP)
}

func TestEvaluate_EmptyInputs(t *testing.T) {
	report := Evaluate([]Sample{{}}, ModeExact)
	assert.Zero(t, report.Overall.TP)
	assert.Zero(t, report.Overall.Precision)
	assert.Zero(t, report.Overall.F1)
}

func TestEfficiencyScore(t *testing.T) {
	// Within both budgets: full F1.
	assert.InDelta(t, 0.8, EfficiencyScore(0.8, 10, 5, 1000, 500), 1e-9)

	// Double the time budget: time term halves.
	got := EfficiencyScore(1.0, 10, 20, 1000, 1000)
	assert.InDelta(t, 0.7+0.15*0.5+0.15, got, 1e-9)

	// Zero measured values never divide by zero.
	assert.False(t, math.IsNaN(EfficiencyScore(0.5, 10, 0, 1000, 0)))
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"exact", "partial", "overlap"} {
		m, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, Mode(s), m)
	}
	_, err := ParseMode("fuzzy")
	assert.True(t, phi.IsKind(err, phi.KindInvalidInput))
}

func TestPairsFromEntities_CustomUsesConcreteName(t *testing.T) {
	pairs := PairsFromEntities([]phi.Entity{
		{Type: phi.TypeName, Text: "王小明"},
		{Type: phi.TypeCustom, CustomTypeName: "BLOOD_DONOR_CODE", Text: "BD-123"},
	})
	assert.Equal(t, []Pair{{"王小明", "NAME"}, {"BD-123", "BLOOD_DONOR_CODE"}}, pairs)
}

func TestLoadPairs_ArrayAndJSONL(t *testing.T) {
	dir := t.TempDir()

	arr := filepath.Join(dir, "truth.json")
	require.NoError(t, os.WriteFile(arr, []byte(`[{"text": "王小明", "type": "NAME"}]`), 0o644))
	pairs, err := LoadPairs(arr)
	require.NoError(t, err)
	assert.Equal(t, []Pair{{"王小明", "NAME"}}, pairs)

	jsonl := filepath.Join(dir, "preds.jsonl")
	require.NoError(t, os.WriteFile(jsonl, []byte("{\"text\": \"a\", \"type\": \"NAME\"}\n{\"text\": \"b\", \"type\": \"DATE\"}\n"), 0o644))
	pairs, err = LoadPairs(jsonl)
	require.NoError(t, err)
	assert.Len(t, pairs, 2)

	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{\"text\": \"a\"}\nnot json\n"), 0o644))
	_, err = LoadPairs(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}
