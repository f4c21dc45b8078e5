// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package job

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// settleDelay is how long a new file must stay quiet before we process it.
// Copies into the watched directory arrive as a Create followed by a burst
// of Writes; running before the burst ends reads a truncated file.
const settleDelay = 1 * time.Second

// Watcher runs a job for every file that appears in a directory.
//
// # Thread Safety
//
// One Watch call per Watcher. Jobs for distinct files run concurrently; the
// runner's MaxParallelFiles does not apply across watch-triggered jobs, so
// each job here is a single file.
type Watcher struct {
	runner *Runner
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher wires a watcher to a runner.
func NewWatcher(runner *Runner, logger *slog.Logger) (*Watcher, error) {
	if runner == nil {
		return nil, phi.Errorf(phi.KindInvalidInput, "job.NewWatcher", "runner must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{runner: runner, logger: logger, timers: make(map[string]*time.Timer)}, nil
}

// Watch blocks until the context is cancelled, processing each supported
// file created or rewritten under dir. Per-file failures are logged, never
// fatal to the watch loop.
func (w *Watcher) Watch(ctx context.Context, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return phi.E(phi.KindInvalidInput, "job.Watcher.Watch", err)
	}
	if !info.IsDir() {
		return phi.Errorf(phi.KindInvalidInput, "job.Watcher.Watch", "%q is not a directory", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return phi.E(phi.KindInternal, "job.Watcher.Watch", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return phi.E(phi.KindInternal, "job.Watcher.Watch", err)
	}
	w.logger.Info("watching for new files", "dir", dir)

	var jobs sync.WaitGroup
	defer jobs.Wait()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, &jobs, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-ctx.Done():
			w.cancelTimers()
			return nil
		}
	}
}

// handleEvent debounces Create/Write bursts per path and schedules the job.
func (w *Watcher) handleEvent(ctx context.Context, jobs *sync.WaitGroup, event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}
	if !w.runner.Supports(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[event.Name]; ok {
		timer.Reset(settleDelay)
		return
	}
	path := event.Name
	w.timers[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			w.logger.Info("processing new file", "file", path)
			task, err := w.runner.Run(ctx, []string{path})
			if err != nil {
				w.logger.Error("watch job failed", "file", path, "error", err)
				return
			}
			w.logger.Info("watch job finished", "file", path, "task", task.TaskID, "status", task.Status)
		}()
	})
}

func (w *Watcher) cancelTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
}
