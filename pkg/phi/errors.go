// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package phi

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies pipeline errors by how they propagate.
//
// Propagation policy:
//   - KindLLM and KindRetriever are local to a chunk; the chunk processor
//     converts them into failed chunk results and the stream continues.
//   - KindLoader fails one file; the job continues with the rest.
//   - KindInvalidInput, KindCheckpoint, and KindInternal propagate out of the
//     job boundary. Checkpoint failures abort because resumability is a core
//     guarantee.
//   - KindCancelled marks cooperative cancellation; the checkpoint stays
//     consistent.
type Kind int

const (
	// KindInvalidInput is bad user data: missing file, unreadable input,
	// chunk overlap >= chunk size. Non-retryable.
	KindInvalidInput Kind = iota
	// KindLoader is a file-format-specific load failure.
	KindLoader
	// KindLLM covers structured-output validation failures, timeouts, and
	// transport errors from the model provider.
	KindLLM
	// KindRetriever covers vector-store failures. Never fatal; the pipeline
	// substitutes the built-in minimal regulation context.
	KindRetriever
	// KindCheckpoint covers checkpoint read/write failures.
	KindCheckpoint
	// KindCancelled marks cooperative cancellation.
	KindCancelled
	// KindInternal marks violated invariants. Fail loudly.
	KindInternal
)

// String returns the kind's wire label.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindLoader:
		return "loader_error"
	case KindLLM:
		return "llm_error"
	case KindRetriever:
		return "retriever_error"
	case KindCheckpoint:
		return "checkpoint_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is a classified pipeline error. Op names the failing operation in
// package.Func form for log correlation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with inline formatting.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap supports errors.Is/errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind from an error chain. Unclassified errors report
// KindInternal; context cancellation maps to KindCancelled.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var pe *Error
	for errors.As(err, &pe) {
		if pe.Kind == kind {
			return true
		}
		err = pe.Err
		pe = nil
	}
	return false
}
