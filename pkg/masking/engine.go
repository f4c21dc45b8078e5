// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package masking

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// Config configures the engine.
type Config struct {
	// Language selects generalization variants ("en" or "zh"). Default "en".
	Language string

	// Salt feeds pseudonym hashing.
	Salt string

	// DateSeed seeds the per-document date-shift RNG. Zero means
	// non-deterministic offsets.
	DateSeed int64

	// Verify re-scans the masked output for surviving entity text and logs
	// warnings. Default true.
	Verify bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{Language: "en", Verify: true}
}

// Engine applies per-type strategies to produce a masked document.
//
// # Description
//
// Entities are processed in descending start order so each in-place
// replacement leaves every earlier span's positions intact. The strategy for
// an entity is the per-type override when present, otherwise the default
// chain from DefaultStrategyFor.
//
// # Thread Safety
//
// Safe for concurrent MaskDocument calls: all mutable state lives in the
// per-call DocumentState.
type Engine struct {
	cfg      Config
	perType  map[phi.Type]Strategy
	fallback Strategy
	defaults map[phi.Type]Strategy
	logger   *slog.Logger
}

// NewEngine builds an engine with the spec default strategy selection.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}

	generalize := NewGeneralization(cfg.Language)
	pseudonymize := NewPseudonymization(cfg.Salt)
	shift := NewDateShifting()
	partial := NewPartialMasking()

	defaults := map[phi.Type]Strategy{
		phi.TypeAgeOver89:           generalize,
		phi.TypeAgeOver90:           generalize,
		phi.TypeName:                pseudonymize,
		phi.TypeMedicalRecordNumber: pseudonymize,
		phi.TypeDate:                shift,
		phi.TypePhone:               partial,
		phi.TypeSSN:                 partial,
		phi.TypeID:                  partial,
	}

	return &Engine{
		cfg:      cfg,
		perType:  make(map[phi.Type]Strategy),
		fallback: NewRedaction(),
		defaults: defaults,
		logger:   logger,
	}
}

// SetStrategy overrides the strategy for one type.
func (e *Engine) SetStrategy(t phi.Type, s Strategy) { e.perType[t] = s }

// SetDefaultStrategy overrides the fallback for types with no entry.
func (e *Engine) SetDefaultStrategy(s Strategy) { e.fallback = s }

// StrategyFor resolves the strategy for a type: explicit override, then the
// built-in default chain, then the engine fallback.
func (e *Engine) StrategyFor(t phi.Type) Strategy {
	if s, ok := e.perType[t]; ok {
		return s
	}
	if s, ok := e.defaults[t]; ok {
		return s
	}
	return e.fallback
}

// MaskDocument rewrites every entity span in text.
//
// Entities must be in document coordinates. Overlapping or out-of-bounds
// spans are skipped with a warning rather than corrupting the output.
// The returned warnings list any entity whose original text survived
// verification (possible for generalization, which may share common-language
// substrings with the source).
func (e *Engine) MaskDocument(text string, entities []phi.Entity) (string, []string) {
	if len(entities) == 0 {
		return text, nil
	}

	ordered := make([]phi.Entity, len(entities))
	copy(ordered, entities)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].StartPos != ordered[j].StartPos {
			return ordered[i].StartPos > ordered[j].StartPos
		}
		return ordered[i].EndPos > ordered[j].EndPos
	})

	doc := newDocumentState(e.cfg.DateSeed)
	var warnings []string

	masked := text
	lastStart := len(text) + 1
	for _, ent := range ordered {
		if ent.StartPos < 0 || ent.EndPos > len(text) || ent.StartPos > ent.EndPos {
			warnings = append(warnings, "span out of bounds: "+ent.Key())
			e.logger.Warn("skipping out-of-bounds entity", "key", ent.Key(), "doc_len", len(text))
			continue
		}
		if ent.EndPos > lastStart {
			warnings = append(warnings, "overlapping span skipped: "+ent.Key())
			e.logger.Warn("skipping overlapping entity", "key", ent.Key())
			continue
		}
		replacement := e.StrategyFor(ent.Type).Mask(ent, doc)
		masked = masked[:ent.StartPos] + replacement + masked[ent.EndPos:]
		lastStart = ent.StartPos
	}

	if e.cfg.Verify {
		for _, ent := range entities {
			if ent.Text == "" {
				continue
			}
			if strings.Contains(masked, ent.Text) {
				warnings = append(warnings, "original text survived masking: "+ent.Key())
				e.logger.Warn("masked output still contains entity text",
					"type", ent.Type, "strategy", e.StrategyFor(ent.Type).Name())
			}
		}
	}
	return masked, warnings
}
