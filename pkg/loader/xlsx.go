// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// XLSXLoader reads spreadsheets. The first row of each sheet is treated as
// a header; every following row becomes one document, like the CSV loader,
// so per-patient rows stay separable.
type XLSXLoader struct{}

func NewXLSXLoader() *XLSXLoader { return &XLSXLoader{} }

func (l *XLSXLoader) SupportedExtensions() []string { return []string{"xlsx", "xls"} }

func (l *XLSXLoader) Load(_ context.Context, path string) ([]phi.LoadedDocument, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, phi.E(phi.KindLoader, "loader.XLSXLoader.Load", err)
	}
	defer f.Close()

	var docs []phi.LoadedDocument
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) < 2 {
			continue
		}
		header := rows[0]
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
			if b.Len() == 0 {
				continue
			}
			docs = append(docs, phi.LoadedDocument{
				Content: b.String(),
				Metadata: phi.DocumentMetadata{
					Filename: filepath.Base(path),
					Format:   "xlsx",
					Sheet:    sheet,
					Custom:   map[string]string{"row": fmt.Sprintf("%d", rowNum+2)},
				},
				Records: []map[string]string{record},
			})
		}
	}
	if len(docs) == 0 {
		return nil, phi.Errorf(phi.KindLoader, "loader.XLSXLoader.Load",
			"%s has no data rows in any sheet", path)
	}
	return docs, nil
}
