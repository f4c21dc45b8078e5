// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package masking rewrites detected PHI spans out of a document. Strategies
// are pure given their configuration and the per-document state; the engine
// applies them right-to-left so earlier span positions stay valid.
package masking

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strings"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// Strategy maps one entity to its replacement string.
//
// Mask receives the per-document state so stateful strategies (pseudonym
// cache, date offset) stay scoped to a single masking invocation. State is
// never shared across documents.
type Strategy interface {
	Name() string
	Mask(e phi.Entity, doc *DocumentState) string
}

// DocumentState holds masking state scoped to one document. Owned by a
// single MaskDocument call; no locking needed.
type DocumentState struct {
	pseudonyms map[string]string
	dateOffset *int
	rng        *rand.Rand
}

// newDocumentState seeds the per-document RNG. A zero seed selects a
// time-derived seed; any fixed seed makes date shifting reproducible
// across runs.
func newDocumentState(seed int64) *DocumentState {
	src := rand.NewSource(seed)
	if seed == 0 {
		src = rand.NewSource(rand.Int63())
	}
	return &DocumentState{
		pseudonyms: make(map[string]string),
		rng:        rand.New(src),
	}
}

// =============================================================================
// Redaction
// =============================================================================

// Redaction replaces the span with a placeholder, or with a run of MaskChar
// matching the original length when PreserveLength is set.
type Redaction struct {
	Placeholder    string
	PreserveLength bool
	MaskChar       rune
}

// NewRedaction returns the default redaction strategy ("[REDACTED]").
func NewRedaction() *Redaction {
	return &Redaction{Placeholder: "[REDACTED]", MaskChar: '*'}
}

func (s *Redaction) Name() string { return "redaction" }

func (s *Redaction) Mask(e phi.Entity, _ *DocumentState) string {
	if s.PreserveLength {
		return strings.Repeat(string(s.MaskChar), len([]rune(e.Text)))
	}
	if s.Placeholder == "" {
		return "[REDACTED]"
	}
	return s.Placeholder
}

// =============================================================================
// Generalization
// =============================================================================

// Generalization replaces a span with a coarser category drawn from a fixed
// table. Language selects the rendered variant ("zh" or "en").
type Generalization struct {
	Language string
}

func NewGeneralization(language string) *Generalization {
	return &Generalization{Language: language}
}

func (s *Generalization) Name() string { return "generalization" }

func (s *Generalization) Mask(e phi.Entity, _ *DocumentState) string {
	zh := s.Language == "zh"
	switch e.Type {
	case phi.TypeAgeOver89:
		if zh {
			return "≥90歲"
		}
		return "≥90 years"
	case phi.TypeAgeOver90:
		if zh {
			return ">90歲"
		}
		return ">90 years"
	case phi.TypeDate:
		// Keep only the year.
		runes := []rune(e.Text)
		if len(runes) >= 4 {
			return string(runes[:4])
		}
		return "[DATE]"
	case phi.TypeLocation:
		if zh {
			return "[地區]"
		}
		return "[LOCATION]"
	default:
		return "[GENERALIZED]"
	}
}

// =============================================================================
// Pseudonymization
// =============================================================================

// Pseudonymization hashes (salt || text) with SHA-256 and renders the first
// HashLength hex characters, upper-cased, through a per-type template.
// Equal (type, text) pairs inside one document always map to the same
// pseudonym via the document cache.
type Pseudonymization struct {
	Salt       string
	HashLength int
	Templates  map[phi.Type]string
}

// NewPseudonymization returns the default configuration: 8-character hashes
// and Patient-/MRN- templates.
func NewPseudonymization(salt string) *Pseudonymization {
	return &Pseudonymization{
		Salt:       salt,
		HashLength: 8,
		Templates: map[phi.Type]string{
			phi.TypeName:                "Patient-{hash}",
			phi.TypeMedicalRecordNumber: "MRN-{hash}",
		},
	}
}

func (s *Pseudonymization) Name() string { return "pseudonymization" }

func (s *Pseudonymization) Mask(e phi.Entity, doc *DocumentState) string {
	cacheKey := string(e.Type) + "\x00" + e.Text
	if doc != nil {
		if cached, ok := doc.pseudonyms[cacheKey]; ok {
			return cached
		}
	}

	sum := sha256.Sum256([]byte(s.Salt + e.Text))
	n := s.HashLength
	if n <= 0 {
		n = 8
	}
	full := strings.ToUpper(hex.EncodeToString(sum[:]))
	if n > len(full) {
		n = len(full)
	}
	h := full[:n]

	template, ok := s.Templates[e.Type]
	if !ok {
		template = fmt.Sprintf("%s-{hash}", e.Type)
	}
	out := strings.ReplaceAll(template, "{hash}", h)
	if doc != nil {
		doc.pseudonyms[cacheKey] = out
	}
	return out
}

// =============================================================================
// Partial Masking
// =============================================================================

// PartialMasking keeps the first KeepPrefix and last KeepSuffix characters
// and replaces the middle with MaskChar. Spans no longer than
// KeepPrefix+KeepSuffix are fully masked.
type PartialMasking struct {
	KeepPrefix int
	KeepSuffix int
	MaskChar   rune
}

func NewPartialMasking() *PartialMasking {
	return &PartialMasking{KeepPrefix: 2, KeepSuffix: 2, MaskChar: '*'}
}

func (s *PartialMasking) Name() string { return "partial_masking" }

func (s *PartialMasking) Mask(e phi.Entity, _ *DocumentState) string {
	runes := []rune(e.Text)
	mask := string(s.MaskChar)
	if len(runes) <= s.KeepPrefix+s.KeepSuffix {
		return strings.Repeat(mask, len(runes))
	}
	middle := len(runes) - s.KeepPrefix - s.KeepSuffix
	return string(runes[:s.KeepPrefix]) + strings.Repeat(mask, middle) + string(runes[len(runes)-s.KeepSuffix:])
}

// =============================================================================
// Suppression
// =============================================================================

// Suppression removes the span entirely.
type Suppression struct{}

func NewSuppression() *Suppression { return &Suppression{} }

func (s *Suppression) Name() string { return "suppression" }

func (s *Suppression) Mask(phi.Entity, *DocumentState) string { return "" }
