// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package job

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SafeHarborAI/safeharbor/pkg/chunk"
	"github.com/SafeHarborAI/safeharbor/pkg/masking"
	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// detectJohn flags every occurrence of "John" in the chunk, in document
// coordinates, the way the real identifier would.
func detectJohn(_ context.Context, c chunk.Chunk) (chunk.Output, error) {
	var entities []phi.Entity
	for from := 0; ; {
		idx := strings.Index(c.Content[from:], "John")
		if idx < 0 {
			break
		}
		pos := from + idx
		entities = append(entities, phi.Entity{
			Type:       phi.TypeName,
			Text:       "John",
			StartPos:   pos + int(c.Info.StartPos),
			EndPos:     pos + 4 + int(c.Info.StartPos),
			Confidence: 0.95,
		})
		from = pos + 4
	}
	return chunk.Output{Entities: entities, ToolCalls: 1}, nil
}

func newTestRunner(t *testing.T, process chunk.ProcessFunc) (*Runner, string) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		ResultsDir:    filepath.Join(root, "results"),
		CheckpointDir: filepath.Join(root, "checkpoints"),
		TaskDir:       filepath.Join(root, "tasks"),
		Chunking:      chunk.Config{ChunkSize: 1000, ChunkOverlap: 100},
	}
	masker := masking.NewEngine(masking.DefaultConfig(), nil)
	runner, err := NewRunner(cfg, nil, process, masker, nil)
	require.NoError(t, err)
	return runner, root
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunner_SingleFileEndToEnd(t *testing.T) {
	runner, root := newTestRunner(t, detectJohn)
	input := writeInput(t, root, "note.txt", "Patient John visited the clinic. John recovered.")

	task, err := runner.Run(context.Background(), []string{input})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, task.Status)
	assert.InDelta(t, 1.0, task.Progress, 0.001)

	fr := task.FileResults[input]
	require.NotNil(t, fr)
	assert.Equal(t, StatusCompleted, fr.Status)
	assert.Equal(t, 2, fr.PHIFound)
	assert.Equal(t, 1, fr.ChunksTotal)
	assert.Zero(t, fr.ChunksFailed)

	masked, err := os.ReadFile(fr.OutputFile)
	require.NoError(t, err)
	assert.NotContains(t, string(masked), "John")
	assert.Contains(t, string(masked), "visited the clinic")

	assert.Equal(t, 2, task.Aggregates.TotalPHIFound)
	assert.Equal(t, 2, task.Aggregates.TypeCounts["NAME"])
	assert.Equal(t, 1, task.Aggregates.FilesProcessed)
}

func TestRunner_StreamFileHoldsOneRecordPerChunk(t *testing.T) {
	runner, root := newTestRunner(t, detectJohn)
	input := writeInput(t, root, "note.txt", "Patient John was discharged.")

	task, err := runner.Run(context.Background(), []string{input})
	require.NoError(t, err)

	fr := task.FileResults[input]
	require.NotEmpty(t, fr.StreamFile)

	f, err := os.Open(fr.StreamFile)
	require.NoError(t, err)
	defer f.Close()

	var results []chunk.Result
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r chunk.Result
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		results = append(results, r)
	}
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Len(t, results[0].Entities, 1)
	assert.Equal(t, 0, results[0].ChunkID)
}

func TestRunner_ReportWritten(t *testing.T) {
	runner, root := newTestRunner(t, detectJohn)
	input := writeInput(t, root, "note.txt", "John")

	task, err := runner.Run(context.Background(), []string{input})
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(root, "results", "*_report_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var report Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, task.TaskID, report.TaskID)
	assert.Equal(t, StatusCompleted, report.Status)
	require.Len(t, report.FileDetails, 1)
	assert.Empty(t, report.Errors)
}

func TestRunner_CheckpointRemovedAfterCompletion(t *testing.T) {
	runner, root := newTestRunner(t, detectJohn)
	input := writeInput(t, root, "note.txt", "John")

	_, err := runner.Run(context.Background(), []string{input})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "checkpoints"))
	require.NoError(t, err)
	assert.Empty(t, entries, "completed checkpoints should be cleaned up")
}

func TestRunner_UnsupportedFileDoesNotAbortJob(t *testing.T) {
	runner, root := newTestRunner(t, detectJohn)
	good := writeInput(t, root, "good.txt", "John visited.")
	bad := writeInput(t, root, "bad.xyz", "whatever")

	task, err := runner.Run(context.Background(), []string{good, bad})
	require.NoError(t, err, "loader failures are recorded, not fatal")

	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, StatusCompleted, task.FileResults[good].Status)
	assert.Equal(t, StatusFailed, task.FileResults[bad].Status)
	assert.Contains(t, task.FileResults[bad].Error, "unsupported")
	assert.Equal(t, 1, task.Aggregates.FilesProcessed)
	assert.Equal(t, 1, task.Aggregates.FilesFailed)
}

func TestRunner_ChunkFailureCompletesFile(t *testing.T) {
	failing := func(context.Context, chunk.Chunk) (chunk.Output, error) {
		return chunk.Output{}, phi.Errorf(phi.KindLLM, "test", "model unavailable")
	}
	runner, root := newTestRunner(t, failing)
	input := writeInput(t, root, "note.txt", "Patient John visited.")

	task, err := runner.Run(context.Background(), []string{input})
	require.NoError(t, err)

	fr := task.FileResults[input]
	assert.Equal(t, StatusCompleted, fr.Status, "chunk failures do not fail the file")
	assert.Equal(t, 1, fr.ChunksFailed)
	assert.Zero(t, fr.PHIFound)

	// With no entities the masked output is the original text.
	masked, err := os.ReadFile(fr.OutputFile)
	require.NoError(t, err)
	assert.Equal(t, "Patient John visited.", string(masked))
}

func TestRunner_ResumeMasksDetectionsFromInterruptedRun(t *testing.T) {
	root := t.TempDir()
	cfg := Config{
		ResultsDir:    filepath.Join(root, "results"),
		CheckpointDir: filepath.Join(root, "checkpoints"),
		TaskDir:       filepath.Join(root, "tasks"),
		Chunking:      chunk.Config{ChunkSize: 40, ChunkOverlap: 0},
		Resume:        true,
	}
	content := "Patient John was admitted early today." + strings.Repeat("x", 42)
	require.Len(t, content, 80)
	input := writeInput(t, root, "note.txt", content)

	// State left by an interrupted run: chunk 0 committed with a NAME hit,
	// chunk 1 never scanned.
	require.NoError(t, os.MkdirAll(cfg.ResultsDir, 0o755))
	logPath := filepath.Join(cfg.ResultsDir, "prior.chunks.jsonl")
	prior := chunk.Result{
		ChunkID: 0, StartPos: 0, EndPos: 40, Success: true,
		Entities: []phi.Entity{{Type: phi.TypeName, Text: "John", StartPos: 8, EndPos: 12, Confidence: 0.95}},
	}
	line, err := json.Marshal(prior)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(logPath, append(line, '\n'), 0o644))

	sig, err := chunk.NewTextSource(content).Signature()
	require.NoError(t, err)
	plan, err := chunk.NewPlan(40, 0, int64(len(content)))
	require.NoError(t, err)
	cp := chunk.NewCheckpoint(input, sig, int64(len(content)), plan)
	cp.OutputFile = logPath
	cp.MarkProcessed(0)
	checkpoints, err := chunk.NewStore(cfg.CheckpointDir)
	require.NoError(t, err)
	require.NoError(t, checkpoints.Save(input, cp))

	// The resumed run's detector finds nothing new; the prior run's hit must
	// still be masked out of the final document.
	detectNothing := func(context.Context, chunk.Chunk) (chunk.Output, error) {
		return chunk.Output{}, nil
	}
	masker := masking.NewEngine(masking.DefaultConfig(), nil)
	runner, err := NewRunner(cfg, nil, detectNothing, masker, nil)
	require.NoError(t, err)

	task, err := runner.Run(context.Background(), []string{input})
	require.NoError(t, err)

	fr := task.FileResults[input]
	require.NotNil(t, fr)
	assert.Equal(t, StatusCompleted, fr.Status)
	assert.Equal(t, 1, fr.PHIFound, "the replayed detection counts")
	assert.Equal(t, 2, fr.ChunksTotal)
	assert.Equal(t, logPath, fr.StreamFile, "the resumed run keeps writing the original log")

	masked, err := os.ReadFile(fr.OutputFile)
	require.NoError(t, err)
	assert.NotContains(t, string(masked), "John")
	assert.Contains(t, string(masked), "was admitted early today")
}

func TestRunner_CancelledContextAbortsJob(t *testing.T) {
	runner, root := newTestRunner(t, detectJohn)
	input := writeInput(t, root, "note.txt", "John")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task, err := runner.Run(ctx, []string{input})
	require.Error(t, err)
	assert.True(t, phi.IsKind(err, phi.KindCancelled))
	assert.Equal(t, StatusFailed, task.Status)
}

func TestRunner_MultipleFilesInParallel(t *testing.T) {
	runner, root := newTestRunner(t, detectJohn)
	runner.cfg.MaxParallelFiles = 2

	var files []string
	for i := 0; i < 3; i++ {
		files = append(files, writeInput(t, root, fmt.Sprintf("note%d.txt", i), "John was here."))
	}

	task, err := runner.Run(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 3, task.Aggregates.FilesProcessed)
	for _, f := range files {
		assert.Equal(t, StatusCompleted, task.FileResults[f].Status)
	}
}

func TestRunner_RejectsEmptyFileList(t *testing.T) {
	runner, _ := newTestRunner(t, detectJohn)
	_, err := runner.Run(context.Background(), nil)
	assert.True(t, phi.IsKind(err, phi.KindInvalidInput))
}
