// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package job

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// timestampLayout matches the output naming convention:
// <results_dir>/<prefix>_<YYYYMMDD_HHMMSS>.<ext>.
const timestampLayout = "20060102_150405"

// PathManager composes output file paths under the results directory. Two
// calls within the same second get distinct paths via a counter suffix, so
// parallel files never clobber each other.
type PathManager struct {
	dir    string
	prefix string

	mu      sync.Mutex
	claimed map[string]bool

	now func() time.Time
}

// NewPathManager creates the results directory if needed.
func NewPathManager(dir, prefix string) (*PathManager, error) {
	if dir == "" {
		return nil, phi.Errorf(phi.KindInvalidInput, "job.NewPathManager", "results directory must not be empty")
	}
	if prefix == "" {
		prefix = "deid"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, phi.E(phi.KindInternal, "job.NewPathManager", err)
	}
	return &PathManager{dir: dir, prefix: prefix, claimed: make(map[string]bool), now: time.Now}, nil
}

// OutputPath returns the masked-document path for an input file, preserving
// its extension.
func (p *PathManager) OutputPath(inputPath string) string {
	ext := filepath.Ext(inputPath)
	if ext == "" {
		ext = ".txt"
	}
	return p.claim(ext)
}

// StreamPath returns the per-chunk JSONL result stream path for an input.
func (p *PathManager) StreamPath() string {
	return p.claim(".chunks.jsonl")
}

// ReportPath returns the job report path for a task.
func (p *PathManager) ReportPath(taskID string) string {
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(p.dir, fmt.Sprintf("%s_%s_report_%s.json",
		p.prefix, p.now().Format(timestampLayout), short))
}

// claim reserves a unique path with the given suffix.
func (p *PathManager) claim(suffix string) string {
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	stamp := p.now().Format(timestampLayout)

	p.mu.Lock()
	defer p.mu.Unlock()
	base := fmt.Sprintf("%s_%s", p.prefix, stamp)
	candidate := filepath.Join(p.dir, base+suffix)
	for n := 1; p.taken(candidate); n++ {
		candidate = filepath.Join(p.dir, fmt.Sprintf("%s_%d%s", base, n, suffix))
	}
	p.claimed[candidate] = true
	return candidate
}

// taken checks both paths handed out this run and files already on disk.
func (p *PathManager) taken(path string) bool {
	if p.claimed[path] {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}
