// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package job orchestrates multi-file de-identification runs: per-file state
// machine, bounded parallelism, progress estimation, and persisted task
// records and reports.
package job

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// Status is the task or per-file lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FileResult is the per-file outcome stored on the task record.
type FileResult struct {
	FileName         string  `json:"file_name"`
	Status           Status  `json:"status"`
	PHIFound         int     `json:"phi_found"`
	ChunksTotal      int     `json:"chunks_total"`
	ChunksFailed     int     `json:"chunks_failed"`
	OutputFile       string  `json:"output_file,omitempty"`
	StreamFile       string  `json:"stream_file,omitempty"`
	Error            string  `json:"error,omitempty"`
	ProcessingTimeMS float64 `json:"processing_time_ms,omitempty"`
}

// Aggregates are the cross-file totals for a task.
type Aggregates struct {
	FilesProcessed        int            `json:"files_processed"`
	FilesFailed           int            `json:"files_failed"`
	TotalPHIFound         int            `json:"total_phi_found"`
	TotalChars            int64          `json:"total_chars"`
	ProcessingTimeSeconds float64        `json:"processing_time_seconds"`
	TypeCounts            map[string]int `json:"type_counts,omitempty"`
}

// TaskConfig is the run configuration snapshot stored on the record, enough
// to explain a result without the original config file.
type TaskConfig struct {
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	Model        string `json:"model,omitempty"`
	UseRAG       bool   `json:"use_rag"`
	UseTools     bool   `json:"use_tools"`
}

// Task is the crash-survivable record of one multi-file job. It is rewritten
// atomically on every state change so a concurrent HTTP reader never sees a
// torn file.
type Task struct {
	TaskID      string                 `json:"task_id"`
	JobName     string                 `json:"job_name,omitempty"`
	Status      Status                 `json:"status"`
	Progress    float64                `json:"progress"`
	FileNames   []string               `json:"file_names"`
	Config      TaskConfig             `json:"config"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	FileResults map[string]*FileResult `json:"file_results"`
	Error       string                 `json:"error,omitempty"`
	Aggregates  Aggregates             `json:"aggregates"`
}

// NewTask creates a pending task for the given input files.
func NewTask(files []string, cfg TaskConfig) *Task {
	now := time.Now().UTC()
	results := make(map[string]*FileResult, len(files))
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f
		results[f] = &FileResult{FileName: f, Status: StatusPending}
	}
	return &Task{
		TaskID:      uuid.NewString(),
		Status:      StatusPending,
		FileNames:   names,
		Config:      cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
		FileResults: results,
	}
}

// CountEntities folds a chunk's entities into the aggregates.
func (a *Aggregates) CountEntities(entities []phi.Entity) {
	if a.TypeCounts == nil {
		a.TypeCounts = make(map[string]int)
	}
	a.TotalPHIFound += len(entities)
	for _, e := range entities {
		a.TypeCounts[entityTypeLabel(e)]++
	}
}

// entityTypeLabel renders the distribution key, keeping custom categories
// distinguishable.
func entityTypeLabel(e phi.Entity) string {
	if e.Type == phi.TypeCustom && e.CustomTypeName != "" {
		return "CUSTOM:" + e.CustomTypeName
	}
	return string(e.Type)
}

// =============================================================================
// Store
// =============================================================================

// TaskStore persists task records, one JSON file per task, written via temp
// file + rename.
type TaskStore struct {
	dir string
}

// NewTaskStore creates the task directory if needed.
func NewTaskStore(dir string) (*TaskStore, error) {
	if dir == "" {
		return nil, phi.Errorf(phi.KindInvalidInput, "job.NewTaskStore", "task directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, phi.E(phi.KindInternal, "job.NewTaskStore", err)
	}
	return &TaskStore{dir: dir}, nil
}

func (s *TaskStore) pathFor(taskID string) string {
	return filepath.Join(s.dir, taskID+".task.json")
}

// Save writes the record atomically.
func (s *TaskStore) Save(t *Task) error {
	t.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return phi.E(phi.KindInternal, "job.TaskStore.Save", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".task-*.tmp")
	if err != nil {
		return phi.E(phi.KindInternal, "job.TaskStore.Save", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return phi.E(phi.KindInternal, "job.TaskStore.Save", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return phi.E(phi.KindInternal, "job.TaskStore.Save", err)
	}
	if err := os.Rename(tmpName, s.pathFor(t.TaskID)); err != nil {
		os.Remove(tmpName)
		return phi.E(phi.KindInternal, "job.TaskStore.Save", err)
	}
	return nil
}

// Load reads one task by ID. A missing record is an InvalidInput error.
func (s *TaskStore) Load(taskID string) (*Task, error) {
	data, err := os.ReadFile(s.pathFor(taskID))
	if os.IsNotExist(err) {
		return nil, phi.Errorf(phi.KindInvalidInput, "job.TaskStore.Load", "no such task %q", taskID)
	}
	if err != nil {
		return nil, phi.E(phi.KindInternal, "job.TaskStore.Load", err)
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, phi.E(phi.KindInternal, "job.TaskStore.Load", err)
	}
	return &t, nil
}

// List returns every stored task, newest first. Unreadable records are
// skipped rather than failing the listing.
func (s *TaskStore) List() ([]*Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, phi.E(phi.KindInternal, "job.TaskStore.List", err)
	}
	out := make([]*Task, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".task.json") {
			continue
		}
		t, err := s.Load(strings.TrimSuffix(e.Name(), ".task.json"))
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
