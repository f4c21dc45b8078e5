// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package loader

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// PDFLoader extracts text from native (non-scanned) PDFs, one document per
// page. Pages whose text extraction fails are skipped; scanned PDFs with no
// text layer fail the whole file so the caller knows nothing was read.
type PDFLoader struct{}

func NewPDFLoader() *PDFLoader { return &PDFLoader{} }

func (l *PDFLoader) SupportedExtensions() []string { return []string{"pdf"} }

func (l *PDFLoader) Load(_ context.Context, path string) ([]phi.LoadedDocument, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, phi.E(phi.KindLoader, "loader.PDFLoader.Load", err)
	}
	defer f.Close()

	var docs []phi.LoadedDocument
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		docs = append(docs, phi.LoadedDocument{
			Content: text,
			Metadata: phi.DocumentMetadata{
				Filename: filepath.Base(path),
				Format:   "pdf",
				Page:     i,
			},
		})
	}
	if len(docs) == 0 {
		return nil, phi.Errorf(phi.KindLoader, "loader.PDFLoader.Load",
			"%s has no extractable text (scanned PDF?)", path)
	}
	return docs, nil
}
