// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// =============================================================================
// Plain Text
// =============================================================================

// TextLoader reads UTF-8 text files as a single document.
type TextLoader struct{}

func NewTextLoader() *TextLoader { return &TextLoader{} }

func (l *TextLoader) SupportedExtensions() []string { return []string{"txt", "text", "md"} }

func (l *TextLoader) Load(_ context.Context, path string) ([]phi.LoadedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, phi.E(phi.KindLoader, "loader.TextLoader.Load", err)
	}
	// Strip a UTF-8 BOM; clinical exports from Windows tools carry one
	// often enough to matter for byte offsets.
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(data) {
		return nil, phi.Errorf(phi.KindLoader, "loader.TextLoader.Load", "%s is not valid UTF-8", path)
	}
	return []phi.LoadedDocument{{
		Content: string(data),
		Metadata: phi.DocumentMetadata{
			Filename: filepath.Base(path),
			Format:   "txt",
			Encoding: "utf-8",
		},
	}}, nil
}

// =============================================================================
// CSV
// =============================================================================

// CSVLoader reads a CSV with a header row. Each data row becomes one
// document whose content is "header: value" lines, so column names give the
// model field context; the raw record rides along for re-export.
type CSVLoader struct{}

func NewCSVLoader() *CSVLoader { return &CSVLoader{} }

func (l *CSVLoader) SupportedExtensions() []string { return []string{"csv"} }

func (l *CSVLoader) Load(_ context.Context, path string) ([]phi.LoadedDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, phi.E(phi.KindLoader, "loader.CSVLoader.Load", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, phi.E(phi.KindLoader, "loader.CSVLoader.Load", err)
	}
	if len(rows) == 0 {
		return nil, phi.Errorf(phi.KindLoader, "loader.CSVLoader.Load", "%s is empty", path)
	}

	header := rows[0]
	docs := make([]phi.LoadedDocument, 0, len(rows)-1)
	for rowNum, row := range rows[1:] {
		record := make(map[string]string, len(header))
		var b strings.Builder
		for i, cell := range row {
			name := fmt.Sprintf("column_%d", i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				name = header[i]
			}
			record[name] = cell
			fmt.Fprintf(&b, "%s: %s\n", name, cell)
		}
		docs = append(docs, phi.LoadedDocument{
			Content: b.String(),
			Metadata: phi.DocumentMetadata{
				Filename: filepath.Base(path),
				Format:   "csv",
				Custom:   map[string]string{"row": fmt.Sprintf("%d", rowNum+2)},
			},
			Records: []map[string]string{record},
		})
	}
	if len(docs) == 0 {
		return nil, phi.Errorf(phi.KindLoader, "loader.CSVLoader.Load", "%s has a header but no rows", path)
	}
	return docs, nil
}

// =============================================================================
// JSONL
// =============================================================================

// JSONLLoader reads one JSON object per line. String fields are flattened
// into "key: value" lines in stable key order.
type JSONLLoader struct{}

func NewJSONLLoader() *JSONLLoader { return &JSONLLoader{} }

func (l *JSONLLoader) SupportedExtensions() []string { return []string{"jsonl", "ndjson"} }

func (l *JSONLLoader) Load(_ context.Context, path string) ([]phi.LoadedDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, phi.E(phi.KindLoader, "loader.JSONLLoader.Load", err)
	}
	defer f.Close()

	var docs []phi.LoadedDocument
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return nil, phi.Errorf(phi.KindLoader, "loader.JSONLLoader.Load",
				"%s line %d: %v", path, lineNum, err)
		}

		record := make(map[string]string, len(obj))
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		for _, k := range keys {
			v := flattenJSONValue(obj[k])
			record[k] = v
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
		docs = append(docs, phi.LoadedDocument{
			Content: b.String(),
			Metadata: phi.DocumentMetadata{
				Filename: filepath.Base(path),
				Format:   "jsonl",
				Custom:   map[string]string{"line": fmt.Sprintf("%d", lineNum)},
			},
			Records: []map[string]string{record},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, phi.E(phi.KindLoader, "loader.JSONLLoader.Load", err)
	}
	if len(docs) == 0 {
		return nil, phi.Errorf(phi.KindLoader, "loader.JSONLLoader.Load", "%s has no records", path)
	}
	return docs, nil
}

func flattenJSONValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		data, _ := json.Marshal(val)
		return string(data)
	}
}
