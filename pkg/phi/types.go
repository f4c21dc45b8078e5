// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package phi defines the PHI domain model: the canonical type enumeration,
// detection entities, custom type descriptors, and the type registry that
// drives prompt rendering and output validation.
//
// Everything downstream (tools, identifier, masking, evaluation) speaks in
// terms of this package. Types here are value objects; an Entity is never
// mutated after creation.
package phi

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// Canonical PHI Types
// =============================================================================

// Type is the closed enumeration of canonical PHI categories.
//
// The string value is the stable identifier used in wire formats (checkpoint
// files, chunk result streams, reports). Two members are special:
//   - TypeCustom is a meta-type; entities carry the concrete name separately.
//   - TypeOther is the fallback when the model cannot classify a span.
type Type string

const (
	TypeName                Type = "NAME"
	TypeDate                Type = "DATE"
	TypeLocation            Type = "LOCATION"
	TypeID                  Type = "ID"
	TypeMedicalRecordNumber Type = "MEDICAL_RECORD_NUMBER"
	TypeAccountNumber       Type = "ACCOUNT_NUMBER"
	TypeContact             Type = "CONTACT"
	TypePhone               Type = "PHONE"
	TypeFax                 Type = "FAX"
	TypeEmail               Type = "EMAIL"
	TypeURL                 Type = "URL"
	TypeIPAddress           Type = "IP_ADDRESS"
	TypeAgeOver89           Type = "AGE_OVER_89"
	TypeAgeOver90           Type = "AGE_OVER_90"
	TypeBiometric           Type = "BIOMETRIC"
	TypePhoto               Type = "PHOTO"
	TypeHospitalName        Type = "HOSPITAL_NAME"
	TypeDepartmentName      Type = "DEPARTMENT_NAME"
	TypeWardNumber          Type = "WARD_NUMBER"
	TypeBedNumber           Type = "BED_NUMBER"
	TypeRareDisease         Type = "RARE_DISEASE"
	TypeGeneticInfo         Type = "GENETIC_INFO"
	TypeDeviceID            Type = "DEVICE_ID"
	TypeCertificate         Type = "CERTIFICATE"
	TypeSSN                 Type = "SSN"
	TypeInsuranceNumber     Type = "INSURANCE_NUMBER"
	TypeCustom              Type = "CUSTOM"
	TypeOther               Type = "OTHER"
)

// baseTypes lists every canonical type in declaration order, meta-types last.
var baseTypes = []Type{
	TypeName, TypeDate, TypeLocation, TypeID, TypeMedicalRecordNumber,
	TypeAccountNumber, TypeContact, TypePhone, TypeFax, TypeEmail, TypeURL,
	TypeIPAddress, TypeAgeOver89, TypeAgeOver90, TypeBiometric, TypePhoto,
	TypeHospitalName, TypeDepartmentName, TypeWardNumber, TypeBedNumber,
	TypeRareDisease, TypeGeneticInfo, TypeDeviceID, TypeCertificate, TypeSSN,
	TypeInsuranceNumber, TypeCustom, TypeOther,
}

// baseTypeSet supports O(1) membership checks for exact alias resolution.
var baseTypeSet = func() map[Type]bool {
	m := make(map[Type]bool, len(baseTypes))
	for _, t := range baseTypes {
		m[t] = true
	}
	return m
}()

// AllTypes returns every canonical type, meta-types included.
func AllTypes() []Type {
	out := make([]Type, len(baseTypes))
	copy(out, baseTypes)
	return out
}

// SelectableTypes returns the types a model may emit directly. CUSTOM and
// OTHER are excluded: CUSTOM is only valid as CUSTOM:<name>, and OTHER is
// explained inline in prompts rather than offered as a category.
func SelectableTypes() []Type {
	out := make([]Type, 0, len(baseTypes)-2)
	for _, t := range baseTypes {
		if t == TypeCustom || t == TypeOther {
			continue
		}
		out = append(out, t)
	}
	return out
}

// IsValid reports whether t is a member of the canonical enumeration.
func (t Type) IsValid() bool { return baseTypeSet[t] }

// IsMeta reports whether t is CUSTOM or OTHER.
func (t Type) IsMeta() bool { return t == TypeCustom || t == TypeOther }

// String implements fmt.Stringer.
func (t Type) String() string { return string(t) }

// =============================================================================
// Custom PHI Types
// =============================================================================

// CustomType describes a user- or regulation-defined PHI category that is not
// part of the canonical enumeration. Immutable after creation.
type CustomType struct {
	// Name is the unique identifier, rendered to models as CUSTOM:<Name>.
	Name string `json:"name"`

	// Description explains what the type covers. Required.
	Description string `json:"description"`

	// Pattern is an optional regular expression matching instances.
	Pattern string `json:"pattern,omitempty"`

	// Examples are literal sample values.
	Examples []string `json:"examples,omitempty"`

	// RegulationSource cites the regulation that motivates the type.
	RegulationSource string `json:"regulation_source,omitempty"`

	// IsHighRisk marks types whose leakage has elevated impact.
	IsHighRisk bool `json:"is_high_risk"`

	// MaskingStrategy optionally names the strategy to apply
	// (redaction, generalization, pseudonymization, ...).
	MaskingStrategy string `json:"masking_strategy,omitempty"`

	// Aliases are alternative spellings resolved to this type.
	Aliases []string `json:"aliases,omitempty"`

	compiled *regexp.Regexp
}

// NewCustomType validates and constructs a CustomType. Name and Description
// must be non-empty; Pattern, when present, must compile.
func NewCustomType(name, description string) (*CustomType, error) {
	ct := &CustomType{Name: strings.TrimSpace(name), Description: strings.TrimSpace(description)}
	if ct.Name == "" {
		return nil, E(KindInvalidInput, "phi.NewCustomType", fmt.Errorf("custom type name must not be empty"))
	}
	if ct.Description == "" {
		return nil, E(KindInvalidInput, "phi.NewCustomType", fmt.Errorf("custom type %q requires a description", ct.Name))
	}
	return ct, nil
}

// WithPattern attaches a regular expression, returning an error if it does
// not compile. The receiver is returned for chaining.
func (c *CustomType) WithPattern(pattern string) (*CustomType, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, E(KindInvalidInput, "phi.CustomType.WithPattern", fmt.Errorf("pattern for %q: %w", c.Name, err))
	}
	c.Pattern = pattern
	c.compiled = re
	return c, nil
}

// MatchesText reports whether text is an instance of this custom type:
// it is listed in Examples, an alias occurs as a case-insensitive substring,
// or the compiled pattern matches.
func (c *CustomType) MatchesText(text string) bool {
	for _, ex := range c.Examples {
		if text == ex {
			return true
		}
	}
	lower := strings.ToLower(text)
	for _, alias := range c.Aliases {
		if alias != "" && strings.Contains(lower, strings.ToLower(alias)) {
			return true
		}
	}
	if c.compiled == nil && c.Pattern != "" {
		// Deferred compile for values decoded from JSON.
		c.compiled, _ = regexp.Compile(c.Pattern)
	}
	return c.compiled != nil && c.compiled.MatchString(text)
}

// =============================================================================
// Registry Entries
// =============================================================================

// TypeSource states where a registry entry came from.
type TypeSource string

const (
	// SourceBase marks entries for canonical enum members.
	SourceBase TypeSource = "base"
	// SourceCustom marks user-registered custom types.
	SourceCustom TypeSource = "custom"
	// SourceRAG marks types extracted from retrieved regulation text.
	SourceRAG TypeSource = "rag"
	// SourceDiscovered marks types first seen in model output.
	SourceDiscovered TypeSource = "discovered"
)

// RegisteredType is a registry entry: one prompt-selectable PHI category.
type RegisteredType struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Source      TypeSource `json:"source"`

	// BaseType is set when Source is SourceBase.
	BaseType Type `json:"base_type,omitempty"`

	// Custom is set for custom entries and carries the full descriptor.
	Custom *CustomType `json:"custom,omitempty"`

	Examples []string `json:"examples,omitempty"`
	Aliases  []string `json:"aliases,omitempty"`
}

// DisplayName is the label shown to models: the bare name for base entries,
// CUSTOM:<name> otherwise.
func (r *RegisteredType) DisplayName() string {
	if r.Source == SourceBase {
		return r.Name
	}
	return "CUSTOM:" + r.Name
}

// =============================================================================
// Entities
// =============================================================================

// Entity is one detected PHI span in document coordinates. Entities are
// created by the identifier, consumed by the masking engine, and never
// mutated in between.
//
// Invariants: 0 <= StartPos <= EndPos, Confidence in [0,1], and
// Type == TypeCustom implies CustomTypeName is non-empty.
type Entity struct {
	Type             Type    `json:"type"`
	Text             string  `json:"text"`
	StartPos         int     `json:"start_pos"`
	EndPos           int     `json:"end_pos"`
	Confidence       float64 `json:"confidence"`
	Reason           string  `json:"reason,omitempty"`
	RegulationSource string  `json:"regulation_source,omitempty"`

	// CustomTypeName identifies the concrete category when Type is CUSTOM.
	// Consumers resolve the full descriptor through the registry; entities
	// never hold a pointer back into it.
	CustomTypeName string `json:"custom_type,omitempty"`
}

// NewEntity constructs a validated Entity.
func NewEntity(t Type, text string, start, end int, confidence float64) (Entity, error) {
	e := Entity{Type: t, Text: text, StartPos: start, EndPos: end, Confidence: confidence}
	if err := e.Validate(); err != nil {
		return Entity{}, err
	}
	return e, nil
}

// Validate checks the Entity invariants.
func (e Entity) Validate() error {
	if !e.Type.IsValid() {
		return E(KindInvalidInput, "phi.Entity.Validate", fmt.Errorf("unknown type %q", e.Type))
	}
	if e.StartPos < 0 || e.EndPos < e.StartPos {
		return E(KindInvalidInput, "phi.Entity.Validate",
			fmt.Errorf("invalid span [%d,%d) for %q", e.StartPos, e.EndPos, e.Text))
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return E(KindInvalidInput, "phi.Entity.Validate", fmt.Errorf("confidence %v out of [0,1]", e.Confidence))
	}
	if e.Type == TypeCustom && e.CustomTypeName == "" {
		return E(KindInvalidInput, "phi.Entity.Validate", fmt.Errorf("CUSTOM entity %q missing custom type name", e.Text))
	}
	return nil
}

// Length returns the span length in characters.
func (e Entity) Length() int { return e.EndPos - e.StartPos }

// Key identifies an entity for deduplication.
func (e Entity) Key() string {
	return fmt.Sprintf("%s|%s|%d|%d", e.Type, e.Text, e.StartPos, e.EndPos)
}

// SortEntities orders entities by StartPos, then EndPos, then type name.
// This is the canonical stable order for merged document-level results.
func SortEntities(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if a.StartPos != b.StartPos {
			return a.StartPos < b.StartPos
		}
		if a.EndPos != b.EndPos {
			return a.EndPos < b.EndPos
		}
		return a.Type < b.Type
	})
}

// DedupeEntities removes duplicates by (type, text, start, end), preserving
// first occurrence order.
func DedupeEntities(entities []Entity) []Entity {
	seen := make(map[string]bool, len(entities))
	out := entities[:0]
	for _, e := range entities {
		k := e.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}

// =============================================================================
// Tool Results
// =============================================================================

// ToolResult is a candidate span produced by a deterministic scanner. Tool
// results are hints for the identifier, never final detections.
type ToolResult struct {
	Text       string            `json:"text"`
	Type       Type              `json:"phi_type"`
	StartPos   int               `json:"start_pos"`
	EndPos     int               `json:"end_pos"`
	Confidence float64           `json:"confidence"`
	ToolName   string            `json:"tool_name"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Equal compares by (text, type, start) per the hint identity contract.
func (t ToolResult) Equal(o ToolResult) bool {
	return t.Text == o.Text && t.Type == o.Type && t.StartPos == o.StartPos
}

// =============================================================================
// Loaded Documents
// =============================================================================

// DocumentMetadata describes the provenance of loaded content.
type DocumentMetadata struct {
	Filename string            `json:"filename"`
	Format   string            `json:"format"`
	Encoding string            `json:"encoding,omitempty"`
	Language string            `json:"language,omitempty"`
	Sheet    string            `json:"sheet,omitempty"`
	Page     int               `json:"page,omitempty"`
	Custom   map[string]string `json:"custom,omitempty"`
}

// LoadedDocument is the loader interface's product, consumed opaquely by the
// core: plain text plus provenance, with optional structured records for
// tabular formats.
type LoadedDocument struct {
	Content  string           `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
	Records  []map[string]string
}
