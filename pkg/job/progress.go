// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package job

import (
	"sync"
	"time"
)

// defaultCharsPerSecond seeds the throughput estimate before any chunk has
// completed. Roughly one 1000-char chunk every two seconds against a local
// model.
const defaultCharsPerSecond = 500.0

// ewmaAlpha weights the newest observation. 0.3 smooths out per-chunk jitter
// while still tracking provider slowdowns within a few chunks.
const ewmaAlpha = 0.3

// ThroughputEstimator tracks exponentially smoothed processing speed in
// characters per second. Safe for concurrent use.
type ThroughputEstimator struct {
	mu   sync.Mutex
	rate float64
	seen bool
}

// NewThroughputEstimator starts from the configured default rate; zero or
// negative falls back to the package default.
func NewThroughputEstimator(initialRate float64) *ThroughputEstimator {
	if initialRate <= 0 {
		initialRate = defaultCharsPerSecond
	}
	return &ThroughputEstimator{rate: initialRate}
}

// Observe folds one completed span of work into the estimate. Zero or
// negative durations are ignored.
func (t *ThroughputEstimator) Observe(chars int, elapsed time.Duration) {
	if chars <= 0 || elapsed <= 0 {
		return
	}
	observed := float64(chars) / elapsed.Seconds()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.seen {
		t.rate = observed
		t.seen = true
		return
	}
	t.rate = ewmaAlpha*observed + (1-ewmaAlpha)*t.rate
}

// Rate returns the current chars-per-second estimate.
func (t *ThroughputEstimator) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

// ETA estimates the remaining time for the given amount of pending text.
func (t *ThroughputEstimator) ETA(remainingChars int64) time.Duration {
	if remainingChars <= 0 {
		return 0
	}
	rate := t.Rate()
	if rate <= 0 {
		rate = defaultCharsPerSecond
	}
	return time.Duration(float64(remainingChars) / rate * float64(time.Second))
}
