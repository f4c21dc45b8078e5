// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package job

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/SafeHarborAI/safeharbor/pkg/chunk"
	"github.com/SafeHarborAI/safeharbor/pkg/loader"
	"github.com/SafeHarborAI/safeharbor/pkg/masking"
	"github.com/SafeHarborAI/safeharbor/pkg/observability"
	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

var tracer = otel.Tracer("safeharbor.job")

// Config configures a Runner.
type Config struct {
	// ResultsDir receives masked documents, chunk streams, and reports.
	ResultsDir string

	// CheckpointDir holds per-input checkpoint files.
	CheckpointDir string

	// TaskDir holds task records.
	TaskDir string

	// OutputPrefix names output files. Default "deid".
	OutputPrefix string

	// MaxParallelFiles bounds concurrent file processing. Default 2.
	MaxParallelFiles int

	// Chunking is passed through to the chunk processor.
	Chunking chunk.Config

	// Resume reuses matching checkpoints instead of starting fresh.
	Resume bool

	// KeepCheckpoints retains checkpoint files after a file completes.
	KeepCheckpoints bool

	// InitialCharsPerSecond seeds the ETA estimator before the first chunk.
	InitialCharsPerSecond float64

	// JobName labels the task record.
	JobName string

	// Model is recorded on the task for provenance.
	Model string

	// UseRAG and UseTools are recorded on the task for provenance.
	UseRAG   bool
	UseTools bool
}

func (c *Config) applyDefaults() {
	if c.ResultsDir == "" {
		c.ResultsDir = "results"
	}
	if c.CheckpointDir == "" {
		c.CheckpointDir = ".deid/checkpoints"
	}
	if c.TaskDir == "" {
		c.TaskDir = ".deid/tasks"
	}
	if c.OutputPrefix == "" {
		c.OutputPrefix = "deid"
	}
	if c.MaxParallelFiles <= 0 {
		c.MaxParallelFiles = 2
	}
}

// Runner drives whole jobs: load, chunk, identify, merge, mask, persist.
//
// # Thread Safety
//
// A Runner is safe for concurrent Run calls; each run owns its task record
// and per-file state.
type Runner struct {
	cfg         Config
	loaders     *loader.Registry
	processor   *chunk.Processor
	checkpoints *chunk.Store
	masker      *masking.Engine
	tasks       *TaskStore
	paths       *PathManager
	logger      *slog.Logger
}

// NewRunner wires the pipeline. process is the per-chunk identification
// function (normally Identifier.IdentifyChunk); it must tolerate concurrent
// calls when Chunking.MaxConcurrency > 1.
func NewRunner(cfg Config, loaders *loader.Registry, process chunk.ProcessFunc, masker *masking.Engine, logger *slog.Logger) (*Runner, error) {
	cfg.applyDefaults()
	if loaders == nil {
		loaders = loader.NewRegistry()
	}
	if masker == nil {
		return nil, phi.Errorf(phi.KindInvalidInput, "job.NewRunner", "masking engine must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	checkpoints, err := chunk.NewStore(cfg.CheckpointDir)
	if err != nil {
		return nil, err
	}
	processor, err := chunk.NewProcessor(cfg.Chunking, checkpoints, process, logger)
	if err != nil {
		return nil, err
	}
	tasks, err := NewTaskStore(cfg.TaskDir)
	if err != nil {
		return nil, err
	}
	paths, err := NewPathManager(cfg.ResultsDir, cfg.OutputPrefix)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:         cfg,
		loaders:     loaders,
		processor:   processor,
		checkpoints: checkpoints,
		masker:      masker,
		tasks:       tasks,
		paths:       paths,
		logger:      logger,
	}, nil
}

// Tasks exposes the task store, for the status API.
func (r *Runner) Tasks() *TaskStore { return r.tasks }

// Supports reports whether the loader registry can handle the path.
func (r *Runner) Supports(path string) bool { return r.loaders.Supports(path) }

// Run processes every file and returns the terminal task record.
//
// # Description
//
// Files run in parallel up to MaxParallelFiles. A file that fails to load or
// process is marked failed on the record and does not stop its siblings;
// checkpoint failures and cancellation abort the whole job, since
// resumability is the core guarantee. The returned error is non-nil only for
// those job-aborting conditions.
func (r *Runner) Run(ctx context.Context, files []string) (*Task, error) {
	if len(files) == 0 {
		return nil, phi.Errorf(phi.KindInvalidInput, "job.Runner.Run", "no input files")
	}

	ctx, span := tracer.Start(ctx, "job.Run")
	span.SetAttributes(attribute.Int("job.files", len(files)))
	defer span.End()

	task := NewTask(files, TaskConfig{
		ChunkSize:    r.cfg.Chunking.ChunkSize,
		ChunkOverlap: r.cfg.Chunking.ChunkOverlap,
		Model:        r.cfg.Model,
		UseRAG:       r.cfg.UseRAG,
		UseTools:     r.cfg.UseTools,
	})
	task.JobName = r.cfg.JobName
	if err := r.tasks.Save(task); err != nil {
		return nil, err
	}

	state := &runState{task: task, est: NewThroughputEstimator(r.cfg.InitialCharsPerSecond)}
	state.setTaskStatus(r.tasks, StatusProcessing, "")

	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxParallelFiles)
	for _, f := range files {
		f := f
		g.Go(func() error {
			return r.processFile(gctx, state, f)
		})
	}
	runErr := g.Wait()

	state.mu.Lock()
	task.Aggregates.ProcessingTimeSeconds = time.Since(started).Seconds()
	if runErr != nil {
		task.Status = StatusFailed
		task.Error = runErr.Error()
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		task.Status = StatusCompleted
		task.Progress = 1
	}
	state.mu.Unlock()

	if err := r.tasks.Save(task); err != nil && runErr == nil {
		runErr = err
	}
	if err := r.writeReport(task); err != nil {
		r.logger.Warn("report write failed", "task", task.TaskID, "error", err)
	}
	return task, runErr
}

// runState is the mutable cross-goroutine state of one Run call.
type runState struct {
	mu    sync.Mutex
	task  *Task
	est   *ThroughputEstimator
	done  int
	total int
}

func (s *runState) setTaskStatus(store *TaskStore, status Status, errMsg string) {
	s.mu.Lock()
	s.task.Status = status
	s.task.Error = errMsg
	s.mu.Unlock()
	_ = store.Save(s.task)
}

// updateFile mutates one file result under the lock and persists the record.
func (s *runState) updateFile(store *TaskStore, name string, fn func(*FileResult)) {
	s.mu.Lock()
	fr := s.task.FileResults[name]
	if fr == nil {
		fr = &FileResult{FileName: name}
		s.task.FileResults[name] = fr
	}
	fn(fr)
	s.mu.Unlock()
	_ = store.Save(s.task)
}

// chunkDone advances the cross-file progress fraction.
func (s *runState) chunkDone(store *TaskStore) {
	s.mu.Lock()
	s.done++
	if s.total > 0 {
		s.task.Progress = float64(s.done) / float64(s.total)
	}
	s.mu.Unlock()
	_ = store.Save(s.task)
}

// abortable reports whether the error must take the whole job down.
func abortable(err error) bool {
	switch phi.KindOf(err) {
	case phi.KindCheckpoint, phi.KindCancelled, phi.KindInternal:
		return true
	}
	return false
}

// processFile runs the full per-file pipeline. Returns a non-nil error only
// for job-aborting conditions; ordinary file failures are recorded on the
// task and swallowed.
func (r *Runner) processFile(ctx context.Context, state *runState, path string) error {
	ctx, span := tracer.Start(ctx, "job.processFile")
	span.SetAttributes(attribute.String("file", path))
	defer span.End()

	observability.ActiveTasks.Inc()
	defer observability.ActiveTasks.Dec()
	started := time.Now()

	state.updateFile(r.tasks, path, func(fr *FileResult) { fr.Status = StatusProcessing })

	fail := func(err error) error {
		observability.FilesProcessed.WithLabelValues(string(StatusFailed)).Inc()
		state.updateFile(r.tasks, path, func(fr *FileResult) {
			fr.Status = StatusFailed
			fr.Error = err.Error()
			fr.ProcessingTimeMS = float64(time.Since(started).Microseconds()) / 1000.0
		})
		state.mu.Lock()
		state.task.Aggregates.FilesFailed++
		state.mu.Unlock()
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("file failed", "file", path, "error", err)
		if abortable(err) {
			return err
		}
		return nil
	}

	docs, err := r.loaders.Load(ctx, path)
	if err != nil {
		return fail(err)
	}
	text := joinDocuments(docs)

	stream, err := r.processor.ProcessText(ctx, text, path, chunk.RunOptions{
		Resume:    r.cfg.Resume,
		ResultLog: r.paths.StreamPath(),
	})
	if err != nil {
		return fail(err)
	}

	// The processor owns the JSONL result log; a resumed run reuses the log
	// its checkpoint recorded and replays the committed results on the
	// stream, so entity collection below always covers the whole document.
	cp := stream.Checkpoint()
	totalChunks := cp.TotalChunks
	replaying := cp.ProcessedCount()
	streamPath := cp.OutputFile
	state.mu.Lock()
	state.total += totalChunks
	state.mu.Unlock()
	state.updateFile(r.tasks, path, func(fr *FileResult) {
		fr.ChunksTotal = totalChunks
		fr.StreamFile = streamPath
	})

	var entities []phi.Entity
	failedChunks := 0
	for res := range stream.Results() {
		replayed := replaying > 0
		if replayed {
			replaying--
		}

		if res.Success {
			entities = append(entities, res.Entities...)
		} else {
			failedChunks++
		}

		// Replayed results already hit the metrics and estimator on the run
		// that produced them.
		if !replayed {
			elapsed := time.Duration(res.ProcessingTimeMS * float64(time.Millisecond))
			observability.ChunkDuration.Observe(elapsed.Seconds())
			if res.Success {
				observability.ChunksProcessed.WithLabelValues("success").Inc()
				for _, e := range res.Entities {
					observability.EntitiesDetected.WithLabelValues(entityTypeLabel(e)).Inc()
				}
			} else {
				observability.ChunksProcessed.WithLabelValues("failure").Inc()
				r.logger.Warn("chunk failed, continuing", "file", path, "chunk", res.ChunkID, "error", res.Error)
			}
			state.est.Observe(int(res.EndPos-res.StartPos), elapsed)
		}
		state.chunkDone(r.tasks)
	}

	if err := stream.Err(); err != nil {
		outcome := "success"
		if phi.IsKind(err, phi.KindCheckpoint) {
			outcome = "failure"
		}
		observability.CheckpointSaves.WithLabelValues(outcome).Inc()
		return fail(err)
	}
	observability.CheckpointSaves.WithLabelValues("success").Inc()

	phi.SortEntities(entities)
	entities = phi.DedupeEntities(entities)

	masked, warnings := r.masker.MaskDocument(text, entities)
	for _, w := range warnings {
		r.logger.Warn("masking warning", "file", path, "warning", w)
	}

	outputPath := r.paths.OutputPath(path)
	if err := os.WriteFile(outputPath, []byte(masked), 0o644); err != nil {
		return fail(phi.E(phi.KindInternal, "job.Runner.processFile", err))
	}

	if !r.cfg.KeepCheckpoints && stream.Checkpoint().IsComplete() {
		if err := r.checkpoints.Delete(path); err != nil {
			r.logger.Warn("checkpoint cleanup failed", "file", path, "error", err)
		}
	}

	elapsedMS := float64(time.Since(started).Microseconds()) / 1000.0
	observability.FilesProcessed.WithLabelValues(string(StatusCompleted)).Inc()
	observability.FileDuration.Observe(time.Since(started).Seconds())

	state.mu.Lock()
	state.task.Aggregates.FilesProcessed++
	state.task.Aggregates.TotalChars += int64(len(text))
	state.task.Aggregates.CountEntities(entities)
	state.mu.Unlock()
	state.updateFile(r.tasks, path, func(fr *FileResult) {
		fr.Status = StatusCompleted
		fr.PHIFound = len(entities)
		fr.ChunksFailed = failedChunks
		fr.OutputFile = outputPath
		fr.ProcessingTimeMS = elapsedMS
	})

	r.logger.Info("file complete",
		"file", path,
		"chunks", totalChunks,
		"chunks_failed", failedChunks,
		"phi_found", len(entities),
		"output", outputPath,
		"elapsed_ms", elapsedMS)
	span.SetAttributes(attribute.Int("job.entities", len(entities)))
	return nil
}

// joinDocuments flattens a multi-document load (sheets, rows, pages) into a
// single text in load order, so positions stay stable across a resume.
func joinDocuments(docs []phi.LoadedDocument) string {
	if len(docs) == 1 {
		return docs[0].Content
	}
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.Join(parts, "\n\n")
}

// =============================================================================
// Report
// =============================================================================

// Report is the job summary written next to the outputs.
type Report struct {
	TaskID      string        `json:"task_id"`
	JobName     string        `json:"job_name,omitempty"`
	Status      Status        `json:"status"`
	Summary     Aggregates    `json:"summary"`
	FileDetails []*FileResult `json:"file_details"`
	Errors      []string      `json:"errors,omitempty"`
}

// writeReport persists the job report atomically.
func (r *Runner) writeReport(task *Task) error {
	report := Report{
		TaskID:  task.TaskID,
		JobName: task.JobName,
		Status:  task.Status,
		Summary: task.Aggregates,
	}
	for _, name := range task.FileNames {
		fr := task.FileResults[name]
		if fr == nil {
			continue
		}
		report.FileDetails = append(report.FileDetails, fr)
		if fr.Error != "" {
			report.Errors = append(report.Errors, fr.FileName+": "+fr.Error)
		}
	}
	if task.Error != "" {
		report.Errors = append(report.Errors, task.Error)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return phi.E(phi.KindInternal, "job.Runner.writeReport", err)
	}
	target := r.paths.ReportPath(task.TaskID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return phi.E(phi.KindInternal, "job.Runner.writeReport", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return phi.E(phi.KindInternal, "job.Runner.writeReport", err)
	}
	return nil
}
