// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// =============================================================================
// Registry
// =============================================================================

// Registry is the canonical PHI type layer: base enum entries, custom and
// RAG-derived types, alias resolution, and discovered-type bookkeeping.
//
// # Description
//
// The registry is an explicit dependency: construct one with NewRegistry and
// pass it to the identifier and the CLI wiring. A process-wide default is
// available through Default for callers that do not need isolation (tests
// construct their own).
//
// # Thread Safety
//
// All methods are safe for concurrent use. Reads are frequent (every chunk
// renders the prompt type list); writes are rare (registrations at startup,
// discoveries during processing), so a single RWMutex is sufficient.
type Registry struct {
	mu sync.RWMutex

	// entries is keyed by upper-cased name and holds custom/rag/discovered
	// types. Base types are not stored; they resolve through baseTypeSet.
	entries map[string]*RegisteredType

	// aliases maps upper-cased alias spellings to resolution targets.
	aliases map[string]aliasTarget

	// subscribers are invoked (outside the lock) when a new type is
	// discovered in model output.
	subscribers []func(name, description string)

	logger *slog.Logger
}

// aliasTarget is the resolution of one alias spelling.
type aliasTarget struct {
	base   Type
	custom string // set when base == TypeCustom
}

// defaultAliases seeds alias resolution with common English and Traditional
// Chinese spellings seen in medical records and model output.
var defaultAliases = map[string]Type{
	"姓名":        TypeName,
	"病人姓名":      TypeName,
	"PATIENT":   TypeName,
	"PERSON":    TypeName,
	"日期":        TypeDate,
	"出生日期":      TypeDate,
	"DOB":       TypeDate,
	"BIRTHDATE": TypeDate,
	"地址":        TypeLocation,
	"地點":        TypeLocation,
	"ADDRESS":   TypeLocation,
	"電話":        TypePhone,
	"手機":        TypePhone,
	"TELEPHONE": TypePhone,
	"TEL":       TypePhone,
	"MOBILE":    TypePhone,
	"傳真":        TypeFax,
	"電子郵件":      TypeEmail,
	"E-MAIL":    TypeEmail,
	"MAIL":      TypeEmail,
	"病歷號":       TypeMedicalRecordNumber,
	"病歷號碼":      TypeMedicalRecordNumber,
	"MRN":       TypeMedicalRecordNumber,
	"身分證字號":     TypeID,
	"身分證":       TypeID,
	"NATIONAL_ID": TypeID,
	"帳號":          TypeAccountNumber,
	"ACCOUNT":     TypeAccountNumber,
	"醫院":          TypeHospitalName,
	"HOSPITAL":    TypeHospitalName,
	"科別":          TypeDepartmentName,
	"DEPARTMENT":  TypeDepartmentName,
	"病房":          TypeWardNumber,
	"WARD":        TypeWardNumber,
	"床號":          TypeBedNumber,
	"BED":         TypeBedNumber,
	"保險":          TypeInsuranceNumber,
	"INSURANCE":   TypeInsuranceNumber,
	"IP":          TypeIPAddress,
	"WEBSITE":     TypeURL,
}

// NewRegistry constructs a registry seeded with the built-in alias table.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		entries: make(map[string]*RegisteredType),
		aliases: make(map[string]aliasTarget, len(defaultAliases)),
		logger:  logger,
	}
	for raw, t := range defaultAliases {
		r.aliases[normalizeAlias(raw)] = aliasTarget{base: t}
	}
	return r
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry, constructed on first use.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry(slog.Default())
	})
	return defaultRegistry
}

// normalizeAlias folds an alias spelling to its lookup key.
func normalizeAlias(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ToUpper(s)
}

// =============================================================================
// Registration
// =============================================================================

// RegisterCustomType adds a custom entry.
//
// A conflicting name is a silent no-op unless overwrite is set; an empty name
// fails with an invalid-input error. The type's aliases become resolvable
// immediately.
func (r *Registry) RegisterCustomType(ct *CustomType, overwrite bool) error {
	if ct == nil || strings.TrimSpace(ct.Name) == "" {
		return Errorf(KindInvalidInput, "phi.Registry.RegisterCustomType", "custom type name must not be empty")
	}
	key := normalizeAlias(ct.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[key]; ok && !overwrite {
		r.logger.Debug("custom type already registered, keeping existing",
			"name", ct.Name, "source", existing.Source)
		return nil
	}
	r.entries[key] = &RegisteredType{
		Name:        ct.Name,
		Description: ct.Description,
		Source:      SourceCustom,
		Custom:      ct,
		Examples:    ct.Examples,
		Aliases:     ct.Aliases,
	}
	for _, alias := range ct.Aliases {
		r.aliases[normalizeAlias(alias)] = aliasTarget{base: TypeCustom, custom: ct.Name}
	}
	return nil
}

// RegisterRAGType adds a type extracted from retrieved regulation text.
func (r *Registry) RegisterRAGType(name, description, source string, examples []string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[normalizeAlias(name)] = &RegisteredType{
		Name:        name,
		Description: description,
		Source:      SourceRAG,
		Custom: &CustomType{
			Name:             name,
			Description:      description,
			RegulationSource: source,
			Examples:         examples,
		},
		Examples: examples,
	}
}

// RecordDiscoveredType registers a type label first seen in model output.
// Idempotent; subscriber callbacks fire only on the first sighting.
func (r *Registry) RecordDiscoveredType(name, description string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	key := normalizeAlias(name)

	r.mu.Lock()
	if _, exists := r.entries[key]; exists {
		r.mu.Unlock()
		return
	}
	if description == "" {
		description = fmt.Sprintf("Discovered during processing: %s", name)
	}
	r.entries[key] = &RegisteredType{
		Name:        name,
		Description: description,
		Source:      SourceDiscovered,
		Custom:      &CustomType{Name: name, Description: description},
	}
	subs := make([]func(string, string), len(r.subscribers))
	copy(subs, r.subscribers)
	r.mu.Unlock()

	r.logger.Info("discovered new PHI type", "name", name)
	for _, fn := range subs {
		fn(name, description)
	}
}

// Subscribe registers a callback fired once per newly discovered type.
// Callbacks run outside the registry lock.
func (r *Registry) Subscribe(fn func(name, description string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// =============================================================================
// Resolution
// =============================================================================

// MapAlias resolves a raw type label from model output or user input to a
// canonical type, with the custom name when the result is CUSTOM.
//
// Resolution order:
//  1. Exact canonical enum spelling.
//  2. "CUSTOM:" prefix: the suffix becomes the custom name and is recorded
//     as discovered if new.
//  3. Alias table lookup (built-ins, custom aliases).
//  4. Anything else: (CUSTOM, cleaned name), recorded as discovered.
func (r *Registry) MapAlias(raw string) (Type, string) {
	cleaned := normalizeAlias(raw)
	if cleaned == "" {
		return TypeOther, ""
	}

	if t := Type(cleaned); t.IsValid() && !t.IsMeta() {
		return t, ""
	}
	if t := Type(cleaned); t == TypeOther {
		return TypeOther, ""
	}

	if suffix, ok := strings.CutPrefix(cleaned, "CUSTOM:"); ok {
		suffix = strings.TrimSpace(suffix)
		if suffix == "" {
			return TypeOther, ""
		}
		r.RecordDiscoveredType(suffix, "")
		return TypeCustom, suffix
	}

	r.mu.RLock()
	target, ok := r.aliases[cleaned]
	r.mu.RUnlock()
	if ok {
		return target.base, target.custom
	}

	r.mu.RLock()
	entry, ok := r.entries[cleaned]
	r.mu.RUnlock()
	if ok {
		if entry.Source == SourceBase {
			return entry.BaseType, ""
		}
		return TypeCustom, entry.Name
	}

	r.RecordDiscoveredType(cleaned, "")
	return TypeCustom, cleaned
}

// LookupCustom returns the descriptor for a custom type name, if known.
func (r *Registry) LookupCustom(name string) (*CustomType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[normalizeAlias(name)]
	if !ok || entry.Custom == nil {
		return nil, false
	}
	return entry.Custom, true
}

// CustomEntries returns all non-base entries sorted by name.
func (r *Registry) CustomEntries() []*RegisteredType {
	r.mu.RLock()
	out := make([]*RegisteredType, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TypeEnumValues returns the selectable labels for structured-output
// validation: every non-meta base type, OTHER, and CUSTOM:<name> for each
// registered custom entry. Bare CUSTOM is never selectable.
func (r *Registry) TypeEnumValues() []string {
	values := make([]string, 0, len(baseTypes))
	for _, t := range SelectableTypes() {
		values = append(values, string(t))
	}
	values = append(values, string(TypeOther))
	for _, e := range r.CustomEntries() {
		values = append(values, e.DisplayName())
	}
	return values
}

// =============================================================================
// Prompt Rendering
// =============================================================================

// PromptFormat selects how TypesForPrompt renders the list.
type PromptFormat string

const (
	FormatList     PromptFormat = "list"
	FormatJSON     PromptFormat = "json"
	FormatMarkdown PromptFormat = "markdown"
)

// PromptOptions controls TypesForPrompt output.
type PromptOptions struct {
	Format              PromptFormat
	IncludeBase         bool
	IncludeCustom       bool
	IncludeDescriptions bool
}

// DefaultPromptOptions renders the full list with descriptions.
func DefaultPromptOptions() PromptOptions {
	return PromptOptions{
		Format:              FormatList,
		IncludeBase:         true,
		IncludeCustom:       true,
		IncludeDescriptions: true,
	}
}

// baseDescriptions gives prompts a one-line gloss per canonical type.
var baseDescriptions = map[Type]string{
	TypeName:                "Personal names (patients, relatives, staff)",
	TypeDate:                "Dates related to an individual (birth, admission, discharge)",
	TypeLocation:            "Addresses and geographic subdivisions smaller than a state",
	TypeID:                  "Government-issued identifiers (national ID, ARC)",
	TypeMedicalRecordNumber: "Medical record numbers",
	TypeAccountNumber:       "Account numbers",
	TypeContact:             "Generic contact information",
	TypePhone:               "Telephone and mobile numbers",
	TypeFax:                 "Fax numbers",
	TypeEmail:               "Email addresses",
	TypeURL:                 "Web URLs",
	TypeIPAddress:           "IP addresses",
	TypeAgeOver89:           "Ages over 89",
	TypeAgeOver90:           "Ages over 90",
	TypeBiometric:           "Biometric identifiers (fingerprints, voice prints)",
	TypePhoto:               "Full-face photographs and comparable images",
	TypeHospitalName:        "Hospital and clinic names",
	TypeDepartmentName:      "Department and division names",
	TypeWardNumber:          "Ward numbers",
	TypeBedNumber:           "Bed numbers",
	TypeRareDisease:         "Rare disease mentions that can identify a person",
	TypeGeneticInfo:         "Genetic information",
	TypeDeviceID:            "Medical device identifiers and serial numbers",
	TypeCertificate:         "Certificate and license numbers",
	TypeSSN:                 "Social security numbers",
	TypeInsuranceNumber:     "Health insurance numbers",
}

// TypesForPrompt renders the selectable type list for the system prompt.
//
// CUSTOM and OTHER are never emitted as entries; the prompt template explains
// them inline ("use CUSTOM:<name> for categories not listed, OTHER as a last
// resort").
func (r *Registry) TypesForPrompt(opts PromptOptions) string {
	type row struct{ label, desc string }
	var rows []row

	if opts.IncludeBase {
		for _, t := range SelectableTypes() {
			rows = append(rows, row{label: string(t), desc: baseDescriptions[t]})
		}
	}
	if opts.IncludeCustom {
		for _, e := range r.CustomEntries() {
			rows = append(rows, row{label: e.DisplayName(), desc: e.Description})
		}
	}

	var b strings.Builder
	switch opts.Format {
	case FormatJSON:
		items := make([]map[string]string, 0, len(rows))
		for _, rw := range rows {
			item := map[string]string{"type": rw.label}
			if opts.IncludeDescriptions && rw.desc != "" {
				item["description"] = rw.desc
			}
			items = append(items, item)
		}
		data, _ := json.MarshalIndent(items, "", "  ")
		b.Write(data)
	case FormatMarkdown:
		b.WriteString("| Type | Description |\n|---|---|\n")
		for _, rw := range rows {
			desc := ""
			if opts.IncludeDescriptions {
				desc = rw.desc
			}
			fmt.Fprintf(&b, "| %s | %s |\n", rw.label, desc)
		}
	default: // FormatList
		for _, rw := range rows {
			if opts.IncludeDescriptions && rw.desc != "" {
				fmt.Fprintf(&b, "- %s: %s\n", rw.label, rw.desc)
			} else {
				fmt.Fprintf(&b, "- %s\n", rw.label)
			}
		}
	}
	return b.String()
}

// =============================================================================
// Import / Export
// =============================================================================

// exportEnvelope is the JSON round-trip format for custom types.
type exportEnvelope struct {
	Version int           `json:"version"`
	Types   []*CustomType `json:"types"`
}

// ExportCustomTypes writes every custom/rag/discovered entry as JSON.
func (r *Registry) ExportCustomTypes(w io.Writer) error {
	env := exportEnvelope{Version: 1}
	for _, e := range r.CustomEntries() {
		if e.Custom != nil {
			env.Types = append(env.Types, e.Custom)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return E(KindInternal, "phi.Registry.ExportCustomTypes", err)
	}
	return nil
}

// ImportCustomTypes reads a previously exported envelope and registers every
// type, overwriting entries with matching names so a fresh process reproduces
// the exporter's mappings.
func (r *Registry) ImportCustomTypes(reader io.Reader) (int, error) {
	var env exportEnvelope
	if err := json.NewDecoder(reader).Decode(&env); err != nil {
		return 0, E(KindInvalidInput, "phi.Registry.ImportCustomTypes", err)
	}
	count := 0
	for _, ct := range env.Types {
		if err := r.RegisterCustomType(ct, true); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
