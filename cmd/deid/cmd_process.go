// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SafeHarborAI/safeharbor/pkg/chunk"
	"github.com/SafeHarborAI/safeharbor/pkg/identify"
	"github.com/SafeHarborAI/safeharbor/pkg/job"
	"github.com/SafeHarborAI/safeharbor/pkg/llm"
	"github.com/SafeHarborAI/safeharbor/pkg/loader"
	"github.com/SafeHarborAI/safeharbor/pkg/masking"
	"github.com/SafeHarborAI/safeharbor/pkg/phi"
	"github.com/SafeHarborAI/safeharbor/pkg/retrieval"
	"github.com/SafeHarborAI/safeharbor/pkg/tools"
	"github.com/SafeHarborAI/safeharbor/pkg/ux"
)

var processFlags struct {
	chunkSize        int
	chunkOverlap     int
	maxConcurrency   int
	maxParallelFiles int
	noRAG            bool
	noTools          bool
	resume           bool
	keepCheckpoints  bool
	outputDir        string
	checkpointDir    string
	model            string
}

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "De-identify one or more documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runProcess,
}

func init() {
	f := processCmd.Flags()
	f.IntVar(&processFlags.chunkSize, "chunk-size", 0, "chunk window size in characters")
	f.IntVar(&processFlags.chunkOverlap, "chunk-overlap", -1, "overlap between successive chunks")
	f.IntVar(&processFlags.maxConcurrency, "max-concurrency", 0, "concurrent chunks per file")
	f.IntVar(&processFlags.maxParallelFiles, "max-parallel-files", 0, "files processed in parallel")
	f.BoolVar(&processFlags.noRAG, "no-rag", false, "skip regulation context retrieval")
	f.BoolVar(&processFlags.noTools, "no-tools", false, "skip deterministic pre-scan tools")
	f.BoolVar(&processFlags.resume, "resume", false, "resume from matching checkpoints")
	f.BoolVar(&processFlags.keepCheckpoints, "keep-checkpoints", false, "retain checkpoints after completion")
	f.StringVar(&processFlags.outputDir, "output-dir", "", "directory for masked outputs and reports")
	f.StringVar(&processFlags.checkpointDir, "checkpoint-dir", "", "directory for checkpoint files")
	f.StringVar(&processFlags.model, "model", "", "override the configured model")
}

// signalContext cancels on SIGINT/SIGTERM so the checkpoint settles before
// exit.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// buildRunner assembles the full pipeline from config plus process flags.
// Shared by process and watch.
func buildRunner(ctx context.Context) (*job.Runner, error) {
	llmCfg := cfg.LLM
	if processFlags.model != "" {
		llmCfg.Model = processFlags.model
	}
	client, err := llm.New(llmCfg)
	if err != nil {
		return nil, err
	}

	idCfg := cfg.Identify
	idCfg.UseRAG = !processFlags.noRAG

	var retriever retrieval.Retriever
	if idCfg.UseRAG {
		store, err := retrieval.NewWeaviateStore(ctx, cfg.Weaviate, appLogger.Slog())
		if err != nil {
			ux.Warn("regulation store unavailable, using built-in Safe Harbor context: %v", err)
			retriever = retrieval.NewStaticRetriever()
		} else {
			retriever = store
		}
	}

	var toolset []tools.Tool
	if processFlags.noTools {
		toolset = []tools.Tool{}
	}

	identifier, err := identify.NewIdentifier(client, phi.Default(), retriever, toolset, idCfg, appLogger.Slog())
	if err != nil {
		return nil, err
	}
	masker := masking.NewEngine(cfg.Masking, appLogger.Slog())

	jobCfg := job.Config{
		ResultsDir:       pick(processFlags.outputDir, cfg.Job.ResultsDir),
		CheckpointDir:    pick(processFlags.checkpointDir, cfg.Job.CheckpointDir),
		TaskDir:          cfg.Job.TaskDir,
		OutputPrefix:     cfg.Job.OutputPrefix,
		MaxParallelFiles: pickInt(processFlags.maxParallelFiles, cfg.Job.MaxParallelFiles),
		Chunking: chunk.Config{
			ChunkSize:          pickInt(processFlags.chunkSize, cfg.Chunking.Size),
			ChunkOverlap:       pickOverlap(processFlags.chunkOverlap, cfg.Chunking.Overlap),
			CheckpointInterval: cfg.Chunking.CheckpointInterval,
			MaxConcurrency:     pickInt(processFlags.maxConcurrency, cfg.Chunking.MaxConcurrency),
		},
		Resume:          processFlags.resume,
		KeepCheckpoints: processFlags.keepCheckpoints,
		Model:           llmCfg.Model,
		UseRAG:          idCfg.UseRAG,
		UseTools:        !processFlags.noTools,
	}
	return job.NewRunner(jobCfg, loader.NewRegistry(), identifier.IdentifyChunk, masker, appLogger.Slog())
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func pickInt(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}

// pickOverlap treats -1 as "not set" so --chunk-overlap 0 stays meaningful.
func pickOverlap(override, fallback int) int {
	if override >= 0 {
		return override
	}
	return fallback
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	runner, err := buildRunner(ctx)
	if err != nil {
		return err
	}

	task, err := runner.Run(ctx, args)
	if err != nil {
		return err
	}

	failed := 0
	for _, name := range task.FileNames {
		fr := task.FileResults[name]
		if fr == nil {
			continue
		}
		if fr.Status == job.StatusCompleted {
			ux.Success("%s: %d PHI across %d chunks (%d failed) -> %s",
				name, fr.PHIFound, fr.ChunksTotal, fr.ChunksFailed, fr.OutputFile)
		} else {
			failed++
			ux.Error("%s: %s", name, fr.Error)
		}
	}

	rows := []ux.KV{
		{Key: "Task", Value: task.TaskID},
		{Key: "Files", Value: fmt.Sprintf("%d completed, %d failed", task.Aggregates.FilesProcessed, task.Aggregates.FilesFailed)},
		{Key: "PHI found", Value: fmt.Sprintf("%d", task.Aggregates.TotalPHIFound)},
		{Key: "Characters", Value: fmt.Sprintf("%d", task.Aggregates.TotalChars)},
		{Key: "Elapsed", Value: fmt.Sprintf("%.1fs", task.Aggregates.ProcessingTimeSeconds)},
	}
	rows = append(rows, ux.Distribution(task.Aggregates.TypeCounts)...)
	fmt.Println(ux.SummaryBox("De-identification summary", rows))

	if failed > 0 {
		return errPartialFailure
	}
	return nil
}
