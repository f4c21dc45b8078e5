// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chunk

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// =============================================================================
// Plan
// =============================================================================

func TestPlan_TotalChunks(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		overlap   int
		totalSize int64
		want      int
	}{
		{"empty input", 500, 100, 0, 0},
		{"fits in one chunk", 500, 100, 100, 1},
		{"exactly one chunk", 500, 100, 500, 1},
		{"overlapping windows", 500, 100, 1050, 3},
		{"exact step boundary", 500, 100, 900, 2},
		{"no overlap", 500, 0, 1500, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewPlan(tt.size, tt.overlap, tt.totalSize)
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.TotalChunks())
		})
	}
}

func TestPlan_SpansForOverlappingWindows(t *testing.T) {
	plan, err := NewPlan(500, 100, 1050)
	require.NoError(t, err)
	require.Equal(t, 3, plan.TotalChunks())

	wantSpans := [][2]int64{{0, 500}, {400, 900}, {800, 1050}}
	for n, want := range wantSpans {
		start, end := plan.Span(n)
		assert.Equal(t, want[0], start, "chunk %d start", n)
		assert.Equal(t, want[1], end, "chunk %d end", n)
	}
}

func TestNewPlan_RejectsBadGeometry(t *testing.T) {
	_, err := NewPlan(0, 0, 100)
	assert.Error(t, err)

	_, err = NewPlan(100, 100, 1000)
	assert.True(t, phi.IsKind(err, phi.KindInvalidInput), "overlap == size must be rejected")

	_, err = NewPlan(100, -1, 1000)
	assert.Error(t, err)
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("hello"))
	b := ContentHash([]byte("world"))
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, ContentHash([]byte("hello")))
}

func TestBuildChunk_WindowLengthMismatch(t *testing.T) {
	plan, err := NewPlan(500, 100, 1050)
	require.NoError(t, err)

	_, err = plan.BuildChunk(0, []byte("too short"))
	assert.True(t, phi.IsKind(err, phi.KindInternal))
}

// =============================================================================
// Sources
// =============================================================================

func TestTextSource_Windows(t *testing.T) {
	src := NewTextSource("0123456789")
	assert.Equal(t, int64(10), src.Size())

	window, err := src.ReadWindow(2, 6)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(window))

	_, err = src.ReadWindow(5, 11)
	assert.Error(t, err)
}

func TestSignature_TracksContentAndSize(t *testing.T) {
	a, err := NewTextSource("hello world").Signature()
	require.NoError(t, err)
	b, err := NewTextSource("hello earth").Signature()
	require.NoError(t, err)
	c, err := NewTextSource("hello world").Signature()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, c)
	assert.Contains(t, a, "-", "signature folds in total size")
}

func TestFileSource_ReadsWindows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte("abcdefghij"), 0o644))

	src, err := OpenFileSource(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, int64(10), src.Size())
	window, err := src.ReadWindow(3, 7)
	require.NoError(t, err)
	assert.Equal(t, "defg", string(window))

	memSig, err := NewTextSource("abcdefghij").Signature()
	require.NoError(t, err)
	fileSig, err := src.Signature()
	require.NoError(t, err)
	assert.Equal(t, memSig, fileSig, "same bytes, same signature")
}

// =============================================================================
// Checkpoint + Store
// =============================================================================

func TestCheckpoint_Progress(t *testing.T) {
	plan, err := NewPlan(500, 100, 1050)
	require.NoError(t, err)
	cp := NewCheckpoint("note.txt", "sig", 1050, plan)

	assert.Equal(t, -1, cp.LastCompletedChunk)
	assert.False(t, cp.IsComplete())

	cp.MarkProcessed(0)
	cp.MarkProcessed(0) // idempotent
	cp.MarkProcessed(2)
	assert.Equal(t, 2, cp.ProcessedCount())
	assert.Equal(t, 2, cp.LastCompletedChunk)
	assert.True(t, cp.IsProcessed(2))
	assert.False(t, cp.IsProcessed(1))
	assert.False(t, cp.IsComplete())

	cp.MarkProcessed(1)
	assert.True(t, cp.IsComplete())
}

func TestCheckpoint_MatchRequiresHashAndGeometry(t *testing.T) {
	plan, err := NewPlan(500, 100, 1050)
	require.NoError(t, err)
	cp := NewCheckpoint("note.txt", "sig", 1050, plan)

	assert.True(t, cp.Matches("sig", plan))
	assert.False(t, cp.Matches("other", plan))

	resized, err := NewPlan(400, 100, 1050)
	require.NoError(t, err)
	assert.False(t, cp.Matches("sig", resized))
}

func TestStore_RoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	plan, err := NewPlan(500, 100, 1050)
	require.NoError(t, err)
	cp := NewCheckpoint("/data/note.txt", "sig", 1050, plan)
	cp.MarkProcessed(1)
	cp.MarkProcessed(0)

	require.NoError(t, store.Save("/data/note.txt", cp))

	loaded, err := store.Load("/data/note.txt")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, []int{0, 1}, loaded.ProcessedChunks, "saved sorted")
	assert.True(t, loaded.IsProcessed(0))
	assert.True(t, loaded.Matches("sig", plan))
}

func TestStore_LoadMissingReturnsNil(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	cp, err := store.Load("never-saved")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestStore_LoadCorruptIsCheckpointError(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.pathFor("bad.txt"), []byte("{not json"), 0o644))
	_, err = store.Load("bad.txt")
	assert.True(t, phi.IsKind(err, phi.KindCheckpoint))
}

func TestStore_DeleteMissingIsNoError(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Delete("never-saved"))
}

// =============================================================================
// Processor
// =============================================================================

// echoProcess tags each chunk with its own content hash so tests can verify
// which windows were actually read.
func echoProcess(_ context.Context, c Chunk) (Output, error) {
	return Output{
		Entities: []phi.Entity{{
			Type:     phi.TypeOther,
			Text:     c.Info.Hash,
			StartPos: int(c.Info.StartPos),
			EndPos:   int(c.Info.EndPos),
		}},
		ToolCalls: 1,
	}, nil
}

func collect(t *testing.T, stream *Stream) []Result {
	t.Helper()
	var results []Result
	for r := range stream.Results() {
		results = append(results, r)
	}
	return results
}

func TestProcessor_StreamsInOrder(t *testing.T) {
	text := strings.Repeat("x", 400) + strings.Repeat("y", 400) + strings.Repeat("z", 250)
	require.Len(t, text, 1050)

	proc, err := NewProcessor(Config{ChunkSize: 500, ChunkOverlap: 100}, nil, echoProcess, nil)
	require.NoError(t, err)

	stream, err := proc.ProcessText(context.Background(), text, "note.txt", RunOptions{})
	require.NoError(t, err)

	results := collect(t, stream)
	require.NoError(t, stream.Err())
	require.Len(t, results, 3)

	wantSpans := [][2]int64{{0, 500}, {400, 900}, {800, 1050}}
	hashes := map[string]bool{}
	for i, r := range results {
		assert.Equal(t, i, r.ChunkID)
		assert.Equal(t, wantSpans[i][0], r.StartPos)
		assert.Equal(t, wantSpans[i][1], r.EndPos)
		assert.True(t, r.Success)
		require.Len(t, r.Entities, 1)
		hashes[r.Entities[0].Text] = true
	}
	assert.Len(t, hashes, 3, "distinct windows carry distinct content hashes")

	cp := stream.Checkpoint()
	require.NotNil(t, cp)
	assert.True(t, cp.IsComplete())
}

func TestProcessor_ConcurrentWorkersKeepOrder(t *testing.T) {
	text := strings.Repeat("abcdefghij", 500) // 5000 bytes, 10 chunks
	proc, err := NewProcessor(Config{ChunkSize: 500, ChunkOverlap: 0, MaxConcurrency: 4}, nil, echoProcess, nil)
	require.NoError(t, err)

	stream, err := proc.ProcessText(context.Background(), text, "wide.txt", RunOptions{})
	require.NoError(t, err)

	results := collect(t, stream)
	require.NoError(t, stream.Err())
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, i, r.ChunkID)
	}
}

func TestProcessor_ChunkFailureDoesNotAbortStream(t *testing.T) {
	failSecond := func(ctx context.Context, c Chunk) (Output, error) {
		if c.Info.ChunkID == 1 {
			return Output{}, phi.Errorf(phi.KindLLM, "test", "model unavailable")
		}
		return echoProcess(ctx, c)
	}

	text := strings.Repeat("a", 1050)
	proc, err := NewProcessor(Config{ChunkSize: 500, ChunkOverlap: 100}, nil, failSecond, nil)
	require.NoError(t, err)

	stream, err := proc.ProcessText(context.Background(), text, "note.txt", RunOptions{})
	require.NoError(t, err)

	results := collect(t, stream)
	require.NoError(t, stream.Err(), "per-chunk failures stay on the result, not the stream")
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "model unavailable")
	assert.True(t, results[2].Success)
	assert.True(t, stream.Checkpoint().IsComplete(), "failed chunks still count as processed")
}

func TestProcessor_ResumeReplaysCommittedChunks(t *testing.T) {
	text := strings.Repeat("x", 400) + strings.Repeat("y", 400) + strings.Repeat("z", 250)
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	// State left behind by an interrupted run: chunks 0 and 1 done, their
	// results logged.
	logPath := filepath.Join(dir, "note.chunks.jsonl")
	logged := []Result{
		{ChunkID: 0, StartPos: 0, EndPos: 500, Success: true,
			Entities: []phi.Entity{{Type: phi.TypeName, Text: "prior-run-zero", StartPos: 10, EndPos: 24, Confidence: 0.9}}},
		{ChunkID: 1, StartPos: 400, EndPos: 900, Success: true,
			Entities: []phi.Entity{{Type: phi.TypeName, Text: "prior-run-one", StartPos: 410, EndPos: 423, Confidence: 0.9}}},
	}
	f, err := os.Create(logPath)
	require.NoError(t, err)
	enc := json.NewEncoder(f)
	for _, r := range logged {
		require.NoError(t, enc.Encode(r))
	}
	require.NoError(t, f.Close())

	sig, err := NewTextSource(text).Signature()
	require.NoError(t, err)
	plan, err := NewPlan(500, 100, int64(len(text)))
	require.NoError(t, err)
	interrupted := NewCheckpoint("note.txt", sig, int64(len(text)), plan)
	interrupted.OutputFile = logPath
	interrupted.MarkProcessed(0)
	interrupted.MarkProcessed(1)
	require.NoError(t, store.Save("note.txt", interrupted))

	proc, err := NewProcessor(Config{ChunkSize: 500, ChunkOverlap: 100}, store, echoProcess, nil)
	require.NoError(t, err)

	stream, err := proc.ProcessText(context.Background(), text, "note.txt", RunOptions{Resume: true})
	require.NoError(t, err)

	results := collect(t, stream)
	require.NoError(t, stream.Err())
	require.Len(t, results, 3, "committed chunks replay ahead of new work")
	assert.Equal(t, "prior-run-zero", results[0].Entities[0].Text)
	assert.Equal(t, "prior-run-one", results[1].Entities[0].Text)
	assert.Equal(t, 2, results[2].ChunkID)
	assert.Equal(t, int64(800), results[2].StartPos)
	assert.Equal(t, int64(1050), results[2].EndPos)

	final, err := store.Load("note.txt")
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, []int{0, 1, 2}, final.ProcessedChunks)
	assert.True(t, final.IsComplete())
	assert.Equal(t, logPath, final.OutputFile)

	stored, err := readResultLog(logPath)
	require.NoError(t, err)
	assert.Len(t, stored, 3, "the new chunk lands in the same log")
}

func TestProcessor_ResumeWithoutResultLogRestartsFresh(t *testing.T) {
	text := strings.Repeat("x", 400) + strings.Repeat("y", 400) + strings.Repeat("z", 250)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	// A checkpoint claiming progress but recording no result log cannot
	// replay the prior detections, so everything reprocesses.
	sig, err := NewTextSource(text).Signature()
	require.NoError(t, err)
	plan, err := NewPlan(500, 100, int64(len(text)))
	require.NoError(t, err)
	orphan := NewCheckpoint("note.txt", sig, int64(len(text)), plan)
	orphan.MarkProcessed(0)
	orphan.MarkProcessed(1)
	require.NoError(t, store.Save("note.txt", orphan))

	proc, err := NewProcessor(Config{ChunkSize: 500, ChunkOverlap: 100}, store, echoProcess, nil)
	require.NoError(t, err)

	stream, err := proc.ProcessText(context.Background(), text, "note.txt", RunOptions{Resume: true})
	require.NoError(t, err)

	results := collect(t, stream)
	require.NoError(t, stream.Err())
	assert.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.ChunkID)
		assert.True(t, r.Success)
	}
}

func TestProcessor_ResultLogOpenFailureIsCheckpointError(t *testing.T) {
	proc, err := NewProcessor(Config{ChunkSize: 500, ChunkOverlap: 100}, nil, echoProcess, nil)
	require.NoError(t, err)

	badPath := filepath.Join(t.TempDir(), "missing-dir", "out.jsonl")
	stream, err := proc.ProcessText(context.Background(), strings.Repeat("a", 1050), "note.txt", RunOptions{ResultLog: badPath})
	require.NoError(t, err)

	results := collect(t, stream)
	assert.Empty(t, results)
	assert.True(t, phi.IsKind(stream.Err(), phi.KindCheckpoint))
}

func TestProcessor_StaleCheckpointRestartsFresh(t *testing.T) {
	text := strings.Repeat("x", 1050)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	plan, err := NewPlan(500, 100, int64(len(text)))
	require.NoError(t, err)
	stale := NewCheckpoint("note.txt", "hash-of-old-content", int64(len(text)), plan)
	stale.MarkProcessed(0)
	stale.MarkProcessed(1)
	require.NoError(t, store.Save("note.txt", stale))

	proc, err := NewProcessor(Config{ChunkSize: 500, ChunkOverlap: 100}, store, echoProcess, nil)
	require.NoError(t, err)

	stream, err := proc.ProcessText(context.Background(), text, "note.txt", RunOptions{Resume: true})
	require.NoError(t, err)

	results := collect(t, stream)
	require.NoError(t, stream.Err())
	assert.Len(t, results, 3, "mismatched hash abandons the checkpoint")
}

func TestProcessor_CancellationSurfacesOnStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc, err := NewProcessor(Config{ChunkSize: 500, ChunkOverlap: 100}, nil, echoProcess, nil)
	require.NoError(t, err)

	stream, err := proc.ProcessText(ctx, strings.Repeat("a", 1050), "note.txt", RunOptions{})
	require.NoError(t, err)

	collect(t, stream)
	assert.True(t, phi.IsKind(stream.Err(), phi.KindCancelled))
}

func TestProcessor_CancelledChunkIsNotCommitted(t *testing.T) {
	text := strings.Repeat("a", 1050)
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	logPath := filepath.Join(dir, "note.chunks.jsonl")

	// Chunk 1 waits until chunk 0 has been consumed, then cancels and fails
	// the way an in-flight model call does when its context dies.
	ctx, cancel := context.WithCancel(context.Background())
	gate := make(chan struct{})
	interrupt := func(c context.Context, ch Chunk) (Output, error) {
		if ch.Info.ChunkID == 1 {
			<-gate
			cancel()
			return Output{}, phi.Errorf(phi.KindCancelled, "test", "interrupted mid-chunk")
		}
		return echoProcess(c, ch)
	}

	proc, err := NewProcessor(Config{ChunkSize: 500, ChunkOverlap: 100}, store, interrupt, nil)
	require.NoError(t, err)

	stream, err := proc.ProcessText(ctx, text, "note.txt", RunOptions{ResultLog: logPath})
	require.NoError(t, err)

	var results []Result
	for r := range stream.Results() {
		results = append(results, r)
		if r.ChunkID == 0 {
			close(gate)
		}
	}
	assert.True(t, phi.IsKind(stream.Err(), phi.KindCancelled))
	require.Len(t, results, 1, "the interrupted chunk never reaches the consumer")

	saved, err := store.Load("note.txt")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, []int{0}, saved.ProcessedChunks, "the interrupted chunk stays uncommitted")

	// A resume replays chunk 0 from the log and rescans the rest.
	resumed, err := NewProcessor(Config{ChunkSize: 500, ChunkOverlap: 100}, store, echoProcess, nil)
	require.NoError(t, err)
	stream, err = resumed.ProcessText(context.Background(), text, "note.txt", RunOptions{Resume: true})
	require.NoError(t, err)
	results = collect(t, stream)
	require.NoError(t, stream.Err())
	require.Len(t, results, 3)
	assert.True(t, stream.Checkpoint().IsComplete())
}

func TestProcessor_AlreadyCompleteReplaysEverything(t *testing.T) {
	text := strings.Repeat("q", 600)
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	logPath := filepath.Join(dir, "done.chunks.jsonl")

	proc, err := NewProcessor(Config{ChunkSize: 500, ChunkOverlap: 100}, store, echoProcess, nil)
	require.NoError(t, err)

	first, err := proc.ProcessText(context.Background(), text, "done.txt", RunOptions{ResultLog: logPath})
	require.NoError(t, err)
	firstResults := collect(t, first)
	require.Len(t, firstResults, 2)
	require.NoError(t, first.Err())

	second, err := proc.ProcessText(context.Background(), text, "done.txt", RunOptions{Resume: true})
	require.NoError(t, err)
	secondResults := collect(t, second)
	require.NoError(t, second.Err())
	assert.Equal(t, firstResults, secondResults, "a finished document replays from the log")
	assert.True(t, second.Checkpoint().IsComplete())
}

func TestProcessWhole_SingleChunk(t *testing.T) {
	proc, err := NewProcessor(DefaultConfig(), nil, echoProcess, nil)
	require.NoError(t, err)

	r, err := proc.ProcessWhole(context.Background(), "short note")
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, 0, r.ChunkID)
	assert.Equal(t, int64(10), r.EndPos)
}
