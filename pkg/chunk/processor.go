// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chunk

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

var tracer = otel.Tracer("safeharbor.chunk.processor")

// Output is what a ProcessFunc yields for one chunk. Entities must already
// be in document coordinates.
type Output struct {
	Entities  []phi.Entity
	RawText   string
	ToolCalls int
	RAGUsed   bool
}

// ProcessFunc runs the per-chunk identification work. It must be pure and
// idempotent when MaxConcurrency > 1. Failures are captured per chunk and do
// not abort the stream.
type ProcessFunc func(ctx context.Context, c Chunk) (Output, error)

// Result is the per-chunk record emitted on the stream and appended to the
// JSONL result file. Never accumulated inside the processor.
type Result struct {
	ChunkID          int          `json:"chunk_id"`
	StartPos         int64        `json:"start_pos"`
	EndPos           int64        `json:"end_pos"`
	Entities         []phi.Entity `json:"entities"`
	RawText          string       `json:"raw_text,omitempty"`
	Success          bool         `json:"success"`
	Error            string       `json:"error,omitempty"`
	ProcessingTimeMS float64      `json:"processing_time_ms"`
	ToolCallsMade    int          `json:"tool_calls_made"`
	RAGUsed          bool         `json:"rag_used"`
}

// Config configures a Processor.
type Config struct {
	// ChunkSize is the window length in bytes. Default 1000.
	ChunkSize int

	// ChunkOverlap is how many bytes successive windows share.
	// Must be < ChunkSize. Default 100.
	ChunkOverlap int

	// CheckpointInterval saves the checkpoint every N completed chunks.
	// Default 1 (every chunk). A final save always happens on stream exit.
	CheckpointInterval int

	// MaxConcurrency bounds in-flight chunks. Default 1: strict FIFO with
	// exactly one chunk in memory. Higher values are only safe when the
	// ProcessFunc tolerates concurrent calls; emission order stays by
	// chunk_id regardless.
	MaxConcurrency int
}

// DefaultConfig returns the processor defaults.
func DefaultConfig() Config {
	return Config{ChunkSize: 1000, ChunkOverlap: 100, CheckpointInterval: 1, MaxConcurrency: 1}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ChunkSize == 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.ChunkOverlap == 0 && c.ChunkSize == d.ChunkSize {
		c.ChunkOverlap = d.ChunkOverlap
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = d.CheckpointInterval
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
}

// Processor turns an input into a FIFO stream of chunk results with durable
// checkpoints.
//
// # Description
//
// The processor reads one window at a time from a seekable source, runs the
// supplied ProcessFunc, and emits results in chunk_id order. After each
// emitted chunk the result is appended to the run's JSONL log and the
// checkpoint records it as processed; a run interrupted at any point resumes
// from the first unprocessed chunk, provided the file signature and chunk
// geometry still match. On resume the logged results of committed chunks are
// replayed on the stream ahead of any new work, so the consumer always
// receives the document's complete chunk set.
//
// # Thread Safety
//
// A Processor is safe for concurrent Process* calls; all per-run state lives
// in the Stream.
type Processor struct {
	cfg     Config
	store   *Store
	process ProcessFunc
	logger  *slog.Logger
}

// NewProcessor validates the configuration and builds a processor. store may
// be nil when checkpointing is not wanted (tests, single-shot wrappers).
func NewProcessor(cfg Config, store *Store, process ProcessFunc, logger *slog.Logger) (*Processor, error) {
	cfg.applyDefaults()
	if process == nil {
		return nil, phi.Errorf(phi.KindInvalidInput, "chunk.NewProcessor", "process func must not be nil")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, phi.Errorf(phi.KindInvalidInput, "chunk.NewProcessor",
			"chunk overlap %d must be in [0, chunk size %d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{cfg: cfg, store: store, process: process, logger: logger}, nil
}

// Stream delivers chunk results in order. Consume Results() to completion,
// then check Err(): a nil error means every pending chunk was attempted and
// the final checkpoint was saved.
type Stream struct {
	results chan Result

	mu         sync.Mutex
	err        error
	checkpoint *Checkpoint
}

// Results is the ordered result channel; closed when the run finishes.
func (s *Stream) Results() <-chan Result { return s.results }

// Err reports the terminal stream error, if any. Valid after Results()
// closes.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Checkpoint returns the final checkpoint state. Valid after Results()
// closes.
func (s *Stream) Checkpoint() *Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Stream) setCheckpoint(cp *Checkpoint) {
	s.mu.Lock()
	s.checkpoint = cp
	s.mu.Unlock()
}

// RunOptions controls one processing run.
type RunOptions struct {
	// Resume reuses a matching checkpoint instead of starting fresh.
	Resume bool

	// ResultLog is the JSONL file receiving one record per emitted chunk.
	// On resume the log recorded in the checkpoint takes precedence, so
	// replayed and new results share one file. Empty disables the log;
	// without one, committed chunks cannot be replayed and a resumed
	// checkpoint with prior progress restarts fresh.
	ResultLog string
}

// ProcessText streams over an in-memory document. textID keys the
// checkpoint, so equal IDs with equal content resume.
func (p *Processor) ProcessText(ctx context.Context, text, textID string, opts RunOptions) (*Stream, error) {
	return p.start(ctx, NewTextSource(text), textID, opts)
}

// ProcessFile streams over a file on disk.
func (p *Processor) ProcessFile(ctx context.Context, path string, opts RunOptions) (*Stream, error) {
	src, err := OpenFileSource(path)
	if err != nil {
		return nil, err
	}
	return p.start(ctx, src, path, opts)
}

// ProcessWhole is the non-streaming convenience path: the whole text as a
// single chunk, no checkpoint. Covers short documents.
func (p *Processor) ProcessWhole(ctx context.Context, text string) (Result, error) {
	plan, err := NewPlan(maxInt(len(text), 1), 0, int64(len(text)))
	if err != nil {
		return Result{}, err
	}
	if len(text) == 0 {
		return Result{Success: true}, nil
	}
	c, err := plan.BuildChunk(0, []byte(text))
	if err != nil {
		return Result{}, err
	}
	return p.runChunk(ctx, c), nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// start sets up the run and launches the pipeline goroutines.
func (p *Processor) start(ctx context.Context, src Source, inputID string, opts RunOptions) (*Stream, error) {
	plan, err := NewPlan(p.cfg.ChunkSize, p.cfg.ChunkOverlap, src.Size())
	if err != nil {
		src.Close()
		return nil, err
	}
	sig, err := src.Signature()
	if err != nil {
		src.Close()
		return nil, err
	}

	cp, prior, err := p.resolveCheckpoint(inputID, sig, plan, opts)
	if err != nil {
		src.Close()
		return nil, err
	}
	if err := p.save(inputID, cp); err != nil {
		src.Close()
		return nil, err
	}

	stream := &Stream{results: make(chan Result)}
	stream.setCheckpoint(cp)
	go p.run(ctx, src, inputID, plan, cp, prior, stream)
	return stream, nil
}

// resolveCheckpoint loads a matching checkpoint and the results its committed
// chunks logged, or starts fresh. Stale checkpoints (hash or geometry
// mismatch) are abandoned. A matching checkpoint whose result log cannot be
// read back is abandoned too: resuming without the prior detections would
// drop them from the final document, so the whole input reprocesses instead.
func (p *Processor) resolveCheckpoint(inputID, sig string, plan Plan, opts RunOptions) (*Checkpoint, []Result, error) {
	if opts.Resume && p.store != nil {
		stored, err := p.store.Load(inputID)
		if err != nil {
			return nil, nil, err
		}
		if stored != nil {
			if !stored.Matches(sig, plan) {
				p.logger.Warn("checkpoint stale, restarting fresh",
					"input", inputID,
					"stored_hash", stored.FileHash,
					"current_hash", sig)
			} else if prior, perr := p.priorResults(stored); perr != nil {
				p.logger.Warn("checkpoint result log unusable, restarting fresh",
					"input", inputID, "error", perr)
			} else {
				p.logger.Info("resuming from checkpoint",
					"input", inputID,
					"processed", stored.ProcessedCount(),
					"total", stored.TotalChunks)
				return stored, prior, nil
			}
		}
	}
	cp := NewCheckpoint(inputID, sig, plan.TotalSize, plan)
	cp.OutputFile = opts.ResultLog
	return cp, nil, nil
}

// priorResults recovers the logged result of every chunk the checkpoint marks
// processed, in ascending chunk order.
func (p *Processor) priorResults(cp *Checkpoint) ([]Result, error) {
	if cp.ProcessedCount() == 0 {
		return nil, nil
	}
	if cp.OutputFile == "" {
		return nil, phi.Errorf(phi.KindCheckpoint, "chunk.Processor.priorResults",
			"checkpoint marks %d chunks processed but records no result log", cp.ProcessedCount())
	}
	stored, err := readResultLog(cp.OutputFile)
	if err != nil {
		return nil, err
	}
	ids := append([]int(nil), cp.ProcessedChunks...)
	sort.Ints(ids)
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		r, ok := stored[id]
		if !ok {
			return nil, phi.Errorf(phi.KindCheckpoint, "chunk.Processor.priorResults",
				"result log %s is missing chunk %d", cp.OutputFile, id)
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *Processor) save(inputID string, cp *Checkpoint) error {
	if p.store == nil {
		return nil
	}
	return p.store.Save(inputID, cp)
}

// workItem pairs a finished result with its plan position for reassembly.
type workItem struct {
	id     int
	result Result
}

// run drives the worker pool and the ordered emission loop. It owns the
// source handle, the checkpoint, and the result log; all are settled before
// the result channel closes.
func (p *Processor) run(parent context.Context, src Source, inputID string, plan Plan, cp *Checkpoint, prior []Result, stream *Stream) {
	defer close(stream.results)
	defer src.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	ctx, span := tracer.Start(ctx, "chunk.process")
	span.SetAttributes(
		attribute.String("input", inputID),
		attribute.Int("total_chunks", cp.TotalChunks),
		attribute.Int("replayed_chunks", len(prior)),
		attribute.Int("chunk_size", plan.ChunkSize),
		attribute.Int("max_concurrency", p.cfg.MaxConcurrency),
	)
	defer span.End()

	finish := func(err error) {
		if saveErr := p.save(inputID, cp); saveErr != nil && err == nil {
			err = saveErr
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			stream.fail(err)
		}
		stream.setCheckpoint(cp)
	}

	// Replay results committed by earlier runs so the consumer sees the full
	// chunk set, not just the chunks this run processes.
	for _, r := range prior {
		select {
		case stream.results <- r:
		case <-ctx.Done():
			finish(phi.E(phi.KindCancelled, "chunk.Processor.run", ctx.Err()))
			return
		}
	}

	// Pending chunk IDs in ascending order, skipping prior-run completions.
	pending := make([]int, 0, cp.TotalChunks)
	for id := 0; id < cp.TotalChunks; id++ {
		if !cp.IsProcessed(id) {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		finish(nil)
		return
	}

	var log *resultLog
	if cp.OutputFile != "" {
		var err error
		log, err = openResultLog(cp.OutputFile)
		if err != nil {
			finish(err)
			return
		}
		defer log.Close()
	}

	jobs := make(chan int)
	items := make(chan workItem, p.cfg.MaxConcurrency)

	var wg sync.WaitGroup
	for w := 0; w < p.cfg.MaxConcurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				items <- workItem{id: id, result: p.runPlanned(ctx, src, plan, id)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, id := range pending {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(items)
	}()

	// Ordered emission: buffer out-of-order completions and release them in
	// ascending chunk_id order, committing the checkpoint as each leaves.
	buffer := make(map[int]Result, p.cfg.MaxConcurrency)
	next := 0
	sinceSave := 0
	var terminal error

emitLoop:
	for item := range items {
		buffer[item.id] = item.result
		for next < len(pending) {
			r, ok := buffer[pending[next]]
			if !ok {
				break
			}
			delete(buffer, pending[next])
			next++

			if !r.Success && ctx.Err() != nil {
				// The failure is the cancellation surfacing through the
				// ProcessFunc. Leave the chunk uncommitted: its text was
				// never fully scanned, so a resume must rescan it.
				terminal = phi.E(phi.KindCancelled, "chunk.Processor.run", ctx.Err())
				cancel()
				break emitLoop
			}

			select {
			case stream.results <- r:
			case <-ctx.Done():
				terminal = phi.E(phi.KindCancelled, "chunk.Processor.run", ctx.Err())
				cancel()
				break emitLoop
			}

			if log != nil {
				if err := log.Append(r); err != nil {
					terminal = err
					cancel()
					break emitLoop
				}
			}

			cp.MarkProcessed(r.ChunkID)
			sinceSave++
			if sinceSave >= p.cfg.CheckpointInterval {
				if err := p.save(inputID, cp); err != nil {
					terminal = err
					cancel()
					break emitLoop
				}
				sinceSave = 0
			}
		}
	}

	if terminal != nil {
		// Drain workers so nothing leaks; results are discarded.
		for range items {
		}
	} else if err := ctx.Err(); err != nil {
		terminal = phi.E(phi.KindCancelled, "chunk.Processor.run", err)
	}
	finish(terminal)
}

// runPlanned reads the window for plan position id and processes it.
func (p *Processor) runPlanned(ctx context.Context, src Source, plan Plan, id int) Result {
	start, end := plan.Span(id)
	window, err := src.ReadWindow(start, end)
	if err != nil {
		return Result{ChunkID: id, StartPos: start, EndPos: end, Success: false, Error: err.Error()}
	}
	c, err := plan.BuildChunk(id, window)
	if err != nil {
		return Result{ChunkID: id, StartPos: start, EndPos: end, Success: false, Error: err.Error()}
	}
	return p.runChunk(ctx, c)
}

// runChunk times the ProcessFunc and converts failures into failed results
// instead of letting them escape the stream.
func (p *Processor) runChunk(ctx context.Context, c Chunk) Result {
	started := time.Now()
	out, err := p.process(ctx, c)
	elapsed := float64(time.Since(started).Microseconds()) / 1000.0

	r := Result{
		ChunkID:          c.Info.ChunkID,
		StartPos:         c.Info.StartPos,
		EndPos:           c.Info.EndPos,
		ProcessingTimeMS: elapsed,
	}
	if err != nil {
		r.Success = false
		r.Error = err.Error()
		p.logger.Warn("chunk processing failed",
			"chunk", c.Info.ChunkID, "error", err, "elapsed_ms", elapsed)
		return r
	}
	r.Success = true
	r.Entities = out.Entities
	r.RawText = out.RawText
	r.ToolCallsMade = out.ToolCalls
	r.RAGUsed = out.RAGUsed
	return r
}
