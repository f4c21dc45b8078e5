// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// Splitting defaults for regulation documents. Regulatory text is dense;
// small chunks with generous overlap keep citations attached to the clauses
// they govern.
const (
	regulationChunkSize    = 800
	regulationChunkOverlap = 150
)

var markdownSeparators = []string{"\n## ", "\n### ", "\n\n", "\n", " ", ""}
var defaultSeparators = []string{"\n\n", "\n", "。", ". ", " ", ""}

// Ingestor splits regulation documents into chunks and loads them into a
// WeaviateStore.
type Ingestor struct {
	store  *WeaviateStore
	logger *slog.Logger
}

// NewIngestor builds an ingestor over the given store.
func NewIngestor(store *WeaviateStore, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, logger: logger}
}

// IngestFile loads one regulation document. The source citation for every
// chunk is the file's base name plus a running chunk number.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, phi.E(phi.KindInvalidInput, "retrieval.Ingestor.IngestFile", err)
	}

	name := filepath.Base(path)
	chunks, err := splitterFor(name).SplitText(string(data))
	if err != nil {
		return 0, phi.E(phi.KindInternal, "retrieval.Ingestor.IngestFile", err)
	}

	docs := make([]Document, 0, len(chunks))
	for i, c := range chunks {
		docs = append(docs, Document{
			Content: c,
			Source:  fmt.Sprintf("%s#%d", name, i+1),
		})
	}

	if err := in.store.Insert(ctx, docs, time.Now().UnixMilli()); err != nil {
		return 0, err
	}
	in.logger.Info("Regulation document ingested", "file", name, "chunks", len(docs))
	return len(docs), nil
}

// IngestDir ingests every .txt and .md file directly under dir.
func (in *Ingestor) IngestDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, phi.E(phi.KindInvalidInput, "retrieval.Ingestor.IngestDir", err)
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".txt", ".md":
		default:
			continue
		}
		n, err := in.IngestFile(ctx, filepath.Join(dir, entry.Name()))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func splitterFor(filename string) textsplitter.TextSplitter {
	switch filepath.Ext(filename) {
	case ".md":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(regulationChunkSize),
			textsplitter.WithChunkOverlap(regulationChunkOverlap),
			textsplitter.WithSeparators(markdownSeparators),
		)
	default:
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(regulationChunkSize),
			textsplitter.WithChunkOverlap(regulationChunkOverlap),
			textsplitter.WithSeparators(defaultSeparators),
		)
	}
}
