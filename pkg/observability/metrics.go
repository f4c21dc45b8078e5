// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability holds the pipeline's Prometheus metrics and the
// /metrics handler wiring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChunksProcessed counts chunk completions by outcome.
	ChunksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safeharbor_chunks_processed_total",
		Help: "Total chunks processed by outcome",
	}, []string{"outcome"})

	// ChunkDuration tracks per-chunk identification latency.
	ChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "safeharbor_chunk_duration_seconds",
		Help:    "Chunk identification duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
	})

	// EntitiesDetected counts detected entities by PHI type.
	EntitiesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safeharbor_entities_detected_total",
		Help: "Total PHI entities detected by type",
	}, []string{"phi_type"})

	// LLMRequests counts model calls by provider and outcome.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safeharbor_llm_requests_total",
		Help: "Total LLM requests by provider and outcome",
	}, []string{"provider", "outcome"})

	// RetrievalRequests counts regulation lookups by outcome. Failures
	// here degrade quality silently, so they need to be visible somewhere.
	RetrievalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safeharbor_retrieval_requests_total",
		Help: "Total regulation retrieval requests by outcome",
	}, []string{"outcome"})

	// FilesProcessed counts files by terminal state.
	FilesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safeharbor_files_processed_total",
		Help: "Total files processed by terminal state",
	}, []string{"state"})

	// FileDuration tracks end-to-end per-file processing time.
	FileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "safeharbor_file_duration_seconds",
		Help:    "End-to-end file processing duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~2000s
	})

	// ActiveTasks tracks in-flight file tasks.
	ActiveTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safeharbor_active_tasks",
		Help: "Number of file tasks currently processing",
	})

	// CheckpointSaves counts checkpoint persistence attempts.
	CheckpointSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safeharbor_checkpoint_saves_total",
		Help: "Total checkpoint save attempts by outcome",
	}, []string{"outcome"})
)

// Handler returns the Prometheus scrape handler for mounting on /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
