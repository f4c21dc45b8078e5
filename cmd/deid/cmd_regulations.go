// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SafeHarborAI/safeharbor/pkg/retrieval"
	"github.com/SafeHarborAI/safeharbor/pkg/ux"
)

var regulationsCmd = &cobra.Command{
	Use:   "regulations",
	Short: "Manage the regulation context store",
}

var regulationsIngestCmd = &cobra.Command{
	Use:   "ingest <path>...",
	Short: "Split regulation documents and load them into the vector store",
	Long: `Splits .txt and .md regulation documents into overlapping snippets and
upserts them into the Weaviate Regulation class, so PHI identification can
retrieve regulation context per chunk. Directories are ingested recursively
at the top level.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRegulationsIngest,
}

var regulationsDefinitionsCmd = &cobra.Command{
	Use:   "definitions <type>...",
	Short: "Show the stored regulation snippets defining PHI types",
	Long: `Looks up the regulation snippets that define the given PHI type names,
one semantic search per type. When the vector store is unreachable the
built-in Safe Harbor summary is shown instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRegulationsDefinitions,
}

func init() {
	regulationsCmd.AddCommand(regulationsIngestCmd)
	regulationsCmd.AddCommand(regulationsDefinitionsCmd)
}

func runRegulationsIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	store, err := retrieval.NewWeaviateStore(ctx, cfg.Weaviate, appLogger.Slog())
	if err != nil {
		return err
	}
	ingestor := retrieval.NewIngestor(store, appLogger.Slog())

	total := 0
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		var n int
		if info.IsDir() {
			n, err = ingestor.IngestDir(ctx, path)
		} else {
			n, err = ingestor.IngestFile(ctx, path)
		}
		if err != nil {
			return err
		}
		ux.Success("%s: %d snippets", path, n)
		total += n
	}

	count, err := store.Count(ctx)
	if err == nil {
		ux.Success("ingested %d snippets (%d total in store)", total, count)
	} else {
		ux.Success("ingested %d snippets", total)
	}
	return nil
}

func runRegulationsDefinitions(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	var retriever retrieval.Retriever
	store, err := retrieval.NewWeaviateStore(ctx, cfg.Weaviate, appLogger.Slog())
	if err != nil {
		ux.Warn("regulation store unreachable, using the built-in summary: %v", err)
		retriever = retrieval.NewStaticRetriever()
	} else {
		retriever = store
	}

	docs, err := retriever.GetPHIDefinitions(ctx, args)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		ux.Warn("no regulation snippets define %v", args)
		return nil
	}
	fmt.Println(retrieval.FormatContext(docs))
	return nil
}
