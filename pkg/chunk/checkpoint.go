// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// Checkpoint is the durable progress record for one input, persisted as JSON
// after every completed chunk (or every CheckpointInterval chunks).
//
// A stored checkpoint is only reusable when its file hash, chunk size, and
// chunk overlap all match the current run; any mismatch abandons it and the
// input restarts fresh. Stale checkpoints are never silently reused.
type Checkpoint struct {
	FilePath           string            `json:"file_path"`
	FileHash           string            `json:"file_hash"`
	TotalSize          int64             `json:"total_size"`
	LastCompletedChunk int               `json:"last_completed_chunk"`
	TotalChunks        int               `json:"total_chunks"`
	ProcessedChunks    []int             `json:"processed_chunks"`
	StartedAt          time.Time         `json:"started_at"`
	LastUpdatedAt      time.Time         `json:"last_updated_at"`
	ChunkSize          int               `json:"chunk_size"`
	ChunkOverlap       int               `json:"chunk_overlap"`
	OutputFile         string            `json:"output_file,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`

	processed map[int]bool
}

// NewCheckpoint starts a fresh record for an input.
func NewCheckpoint(filePath, fileHash string, totalSize int64, plan Plan) *Checkpoint {
	now := time.Now().UTC()
	return &Checkpoint{
		FilePath:           filePath,
		FileHash:           fileHash,
		TotalSize:          totalSize,
		LastCompletedChunk: -1,
		TotalChunks:        plan.TotalChunks(),
		StartedAt:          now,
		LastUpdatedAt:      now,
		ChunkSize:          plan.ChunkSize,
		ChunkOverlap:       plan.ChunkOverlap,
		processed:          make(map[int]bool),
	}
}

// Matches reports whether this checkpoint belongs to the given content and
// geometry and may be resumed.
func (c *Checkpoint) Matches(fileHash string, plan Plan) bool {
	return c.FileHash == fileHash &&
		c.ChunkSize == plan.ChunkSize &&
		c.ChunkOverlap == plan.ChunkOverlap
}

// IsProcessed reports whether chunkID already completed in a prior run.
func (c *Checkpoint) IsProcessed(chunkID int) bool {
	c.ensureSet()
	return c.processed[chunkID]
}

// MarkProcessed records a completed chunk (success or failure both count:
// a failed chunk is not retried within a run).
func (c *Checkpoint) MarkProcessed(chunkID int) {
	c.ensureSet()
	if !c.processed[chunkID] {
		c.processed[chunkID] = true
		c.ProcessedChunks = append(c.ProcessedChunks, chunkID)
	}
	if chunkID > c.LastCompletedChunk {
		c.LastCompletedChunk = chunkID
	}
	c.LastUpdatedAt = time.Now().UTC()
}

// IsComplete reports whether every planned chunk has been processed.
func (c *Checkpoint) IsComplete() bool {
	c.ensureSet()
	return len(c.processed) >= c.TotalChunks
}

// ProcessedCount returns how many distinct chunks completed.
func (c *Checkpoint) ProcessedCount() int {
	c.ensureSet()
	return len(c.processed)
}

// ensureSet rebuilds the membership set after JSON decoding.
func (c *Checkpoint) ensureSet() {
	if c.processed != nil {
		return
	}
	c.processed = make(map[int]bool, len(c.ProcessedChunks))
	for _, id := range c.ProcessedChunks {
		c.processed[id] = true
	}
}

// =============================================================================
// Store
// =============================================================================

// Store persists checkpoints, one JSON file per input, written atomically
// (temp file + rename) so a concurrent reader never sees a torn record.
type Store struct {
	dir string
}

// NewStore creates the checkpoint directory if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, phi.Errorf(phi.KindInvalidInput, "chunk.NewStore", "checkpoint directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, phi.E(phi.KindCheckpoint, "chunk.NewStore", err)
	}
	return &Store{dir: dir}, nil
}

// pathFor derives a stable checkpoint filename from the input identifier.
func (s *Store) pathFor(inputID string) string {
	sum := sha256.Sum256([]byte(inputID))
	base := filepath.Base(inputID)
	if len(base) > 48 {
		base = base[:48]
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.checkpoint.json", sanitizeName(base), hex.EncodeToString(sum[:6])))
}

// sanitizeName keeps checkpoint filenames portable.
func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Load returns the stored checkpoint for inputID, or (nil, nil) when none
// exists. Corrupt files surface as checkpoint errors.
func (s *Store) Load(inputID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.pathFor(inputID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, phi.E(phi.KindCheckpoint, "chunk.Store.Load", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, phi.E(phi.KindCheckpoint, "chunk.Store.Load", err)
	}
	cp.ensureSet()
	return &cp, nil
}

// Save writes the checkpoint atomically: marshal, write to a temp file in
// the same directory, then rename over the target.
func (s *Store) Save(inputID string, cp *Checkpoint) error {
	sort.Ints(cp.ProcessedChunks)
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return phi.E(phi.KindCheckpoint, "chunk.Store.Save", err)
	}

	target := s.pathFor(inputID)
	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*.tmp")
	if err != nil {
		return phi.E(phi.KindCheckpoint, "chunk.Store.Save", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return phi.E(phi.KindCheckpoint, "chunk.Store.Save", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return phi.E(phi.KindCheckpoint, "chunk.Store.Save", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return phi.E(phi.KindCheckpoint, "chunk.Store.Save", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return phi.E(phi.KindCheckpoint, "chunk.Store.Save", err)
	}
	return nil
}

// Delete removes the checkpoint for inputID. Missing files are not errors.
func (s *Store) Delete(inputID string) error {
	err := os.Remove(s.pathFor(inputID))
	if err != nil && !os.IsNotExist(err) {
		return phi.E(phi.KindCheckpoint, "chunk.Store.Delete", err)
	}
	return nil
}
