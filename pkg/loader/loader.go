// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package loader turns input files into plain text the pipeline can chunk.
// Each format keeps its provenance in DocumentMetadata; tabular formats also
// keep per-record maps so results can be written back in the same shape.
package loader

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// Loader converts one file format into loaded documents. A single file may
// yield several documents (one per sheet, one per JSONL record batch).
type Loader interface {
	// SupportedExtensions lists the lower-case extensions, without dots.
	SupportedExtensions() []string

	// Load reads the file at path.
	Load(ctx context.Context, path string) ([]phi.LoadedDocument, error)
}

// Registry maps file extensions to loaders.
type Registry struct {
	byExt map[string]Loader
}

// NewRegistry builds a registry with the standard loaders installed.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Loader)}
	r.Register(NewTextLoader())
	r.Register(NewCSVLoader())
	r.Register(NewJSONLLoader())
	r.Register(NewXLSXLoader())
	r.Register(NewPDFLoader())
	return r
}

// Register installs a loader, overriding earlier claims to its extensions.
func (r *Registry) Register(l Loader) {
	for _, ext := range l.SupportedExtensions() {
		r.byExt[strings.ToLower(ext)] = l
	}
}

// For returns the loader for a path, by extension.
func (r *Registry) For(path string) (Loader, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	l, ok := r.byExt[ext]
	if !ok {
		return nil, phi.Errorf(phi.KindLoader, "loader.Registry.For",
			"unsupported file format %q (supported: %s)", ext, strings.Join(r.Extensions(), ", "))
	}
	return l, nil
}

// Load resolves the loader and reads the file.
func (r *Registry) Load(ctx context.Context, path string) ([]phi.LoadedDocument, error) {
	l, err := r.For(path)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, path)
}

// Extensions lists every registered extension, sorted.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether the registry can handle the path.
func (r *Registry) Supports(path string) bool {
	_, err := r.For(path)
	return err == nil
}
