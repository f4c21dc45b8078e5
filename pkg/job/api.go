// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package job

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/SafeHarborAI/safeharbor/pkg/observability"
	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// Server is the read-only job status API.
//
// # Description
//
// Serves task records straight from the task store, so a long-running
// `deid process` in another process is observable without shared memory.
// Task files are written atomically, so reads never see torn JSON.
//
// Endpoints:
//
//	GET /healthz          - liveness
//	GET /metrics          - Prometheus scrape
//	GET /v1/tasks         - all task records, newest first
//	GET /v1/tasks/:id     - one task record
//	GET /v1/stats         - aggregate totals across all tasks
type Server struct {
	tasks  *TaskStore
	engine *gin.Engine
	logger *slog.Logger
}

// NewServer builds the router. The store must outlive the server.
func NewServer(tasks *TaskStore, logger *slog.Logger) (*Server, error) {
	if tasks == nil {
		return nil, phi.Errorf(phi.KindInvalidInput, "job.NewServer", "task store must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{tasks: tasks, engine: engine, logger: logger}

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(observability.Handler()))

	v1 := engine.Group("/v1")
	{
		v1.GET("/tasks", s.handleListTasks)
		v1.GET("/tasks/:id", s.handleGetTask)
		v1.GET("/stats", s.handleStats)
	}
	return s, nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return phi.E(phi.KindInternal, "job.Server.Run", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return phi.E(phi.KindInternal, "job.Server.Run", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.tasks.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.tasks.Load(c.Param("id"))
	if err != nil {
		if phi.IsKind(err, phi.KindInvalidInput) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleStats(c *gin.Context) {
	tasks, err := s.tasks.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var agg Aggregates
	byStatus := make(map[Status]int)
	for _, t := range tasks {
		byStatus[t.Status]++
		agg.FilesProcessed += t.Aggregates.FilesProcessed
		agg.FilesFailed += t.Aggregates.FilesFailed
		agg.TotalPHIFound += t.Aggregates.TotalPHIFound
		agg.TotalChars += t.Aggregates.TotalChars
		agg.ProcessingTimeSeconds += t.Aggregates.ProcessingTimeSeconds
		for typ, n := range t.Aggregates.TypeCounts {
			if agg.TypeCounts == nil {
				agg.TypeCounts = make(map[string]int)
			}
			agg.TypeCounts[typ] += n
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks_total": len(tasks),
		"by_status":   byStatus,
		"totals":      agg,
	})
}
