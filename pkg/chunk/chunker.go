// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chunk implements the streaming chunk processor: fixed-size
// overlapping windows over arbitrarily large inputs, a bounded worker pool
// with ordered emission, and durable checkpoints that make interrupted runs
// resumable.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// Info describes one chunk's placement within its document.
type Info struct {
	ChunkID  int    `json:"chunk_id"`
	StartPos int64  `json:"start_pos"`
	EndPos   int64  `json:"end_pos"`
	Size     int64  `json:"size"`
	Hash     string `json:"content_hash"`
}

// Chunk is one window of document text plus its placement.
type Chunk struct {
	Info    Info
	Content string
}

// Plan is the chunk geometry for one input: fixed size, fixed overlap,
// step = size - overlap.
type Plan struct {
	ChunkSize    int
	ChunkOverlap int
	TotalSize    int64
}

// NewPlan validates the geometry. Overlap must be non-negative and strictly
// smaller than the chunk size.
func NewPlan(chunkSize, chunkOverlap int, totalSize int64) (Plan, error) {
	if chunkSize <= 0 {
		return Plan{}, phi.Errorf(phi.KindInvalidInput, "chunk.NewPlan", "chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return Plan{}, phi.Errorf(phi.KindInvalidInput, "chunk.NewPlan",
			"chunk overlap %d must be in [0, chunk size %d)", chunkOverlap, chunkSize)
	}
	if totalSize < 0 {
		return Plan{}, phi.Errorf(phi.KindInvalidInput, "chunk.NewPlan", "negative total size %d", totalSize)
	}
	return Plan{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap, TotalSize: totalSize}, nil
}

// Step is the distance between successive chunk starts.
func (p Plan) Step() int64 { return int64(p.ChunkSize - p.ChunkOverlap) }

// TotalChunks is how many chunks cover the input. Empty inputs need none.
func (p Plan) TotalChunks() int {
	if p.TotalSize == 0 {
		return 0
	}
	size := int64(p.ChunkSize)
	if p.TotalSize <= size {
		return 1
	}
	rest := p.TotalSize - size
	step := p.Step()
	n := 1 + int(rest/step)
	if rest%step != 0 {
		n++
	}
	return n
}

// Span returns the byte range [start, end) of chunk n, clamped to the input.
func (p Plan) Span(n int) (int64, int64) {
	start := int64(n) * p.Step()
	end := start + int64(p.ChunkSize)
	if end > p.TotalSize {
		end = p.TotalSize
	}
	return start, end
}

// ContentHash is the 8-hex-character verification hash over chunk bytes.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:4])
}

// BuildChunk assembles a Chunk for plan position n from its window bytes.
// The caller must supply exactly the bytes of Span(n).
func (p Plan) BuildChunk(n int, window []byte) (Chunk, error) {
	start, end := p.Span(n)
	if int64(len(window)) != end-start {
		return Chunk{}, phi.Errorf(phi.KindInternal, "chunk.Plan.BuildChunk",
			"chunk %d window is %d bytes, want %d", n, len(window), end-start)
	}
	return Chunk{
		Info: Info{
			ChunkID:  n,
			StartPos: start,
			EndPos:   end,
			Size:     end - start,
			Hash:     ContentHash(window),
		},
		Content: string(window),
	}, nil
}

// String implements fmt.Stringer for log lines.
func (i Info) String() string {
	return fmt.Sprintf("chunk %d [%d,%d) hash=%s", i.ChunkID, i.StartPos, i.EndPos, i.Hash)
}
