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
	"fmt"
	"io"
	"os"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// signatureWindow is how much of the input is hashed for change detection.
// The first MiB is sufficient to notice edits without reading huge files
// twice; total size is folded in separately.
const signatureWindow = 1 << 20

// Source is a seekable input the processor reads windows from, one chunk at
// a time, without buffering the whole document.
type Source interface {
	// Size is the total input length in bytes.
	Size() int64

	// ReadWindow returns the bytes in [start, end).
	ReadWindow(start, end int64) ([]byte, error)

	// Signature identifies the input content for checkpoint matching:
	// hash of the first signatureWindow bytes plus the total size.
	Signature() (string, error)

	// Close releases the underlying handle, if any.
	Close() error
}

// =============================================================================
// Text Source
// =============================================================================

// TextSource adapts an in-memory string.
type TextSource struct {
	text string
}

// NewTextSource wraps text for chunked processing.
func NewTextSource(text string) *TextSource { return &TextSource{text: text} }

func (s *TextSource) Size() int64 { return int64(len(s.text)) }

func (s *TextSource) ReadWindow(start, end int64) ([]byte, error) {
	if start < 0 || end > int64(len(s.text)) || start > end {
		return nil, phi.Errorf(phi.KindInternal, "chunk.TextSource.ReadWindow",
			"window [%d,%d) out of bounds for %d bytes", start, end, len(s.text))
	}
	return []byte(s.text[start:end]), nil
}

func (s *TextSource) Signature() (string, error) {
	head := s.text
	if len(head) > signatureWindow {
		head = head[:signatureWindow]
	}
	return contentSignature([]byte(head), int64(len(s.text))), nil
}

func (s *TextSource) Close() error { return nil }

// =============================================================================
// File Source
// =============================================================================

// FileSource reads windows from a file via ReadAt, so concurrent chunk
// workers can share one handle.
type FileSource struct {
	f    *os.File
	size int64
	path string
}

// OpenFileSource opens path for windowed reads.
func OpenFileSource(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, phi.E(phi.KindInvalidInput, "chunk.OpenFileSource", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, phi.E(phi.KindInvalidInput, "chunk.OpenFileSource", err)
	}
	return &FileSource{f: f, size: st.Size(), path: path}, nil
}

func (s *FileSource) Size() int64 { return s.size }

func (s *FileSource) Path() string { return s.path }

func (s *FileSource) ReadWindow(start, end int64) ([]byte, error) {
	if start < 0 || end > s.size || start > end {
		return nil, phi.Errorf(phi.KindInternal, "chunk.FileSource.ReadWindow",
			"window [%d,%d) out of bounds for %d bytes", start, end, s.size)
	}
	buf := make([]byte, end-start)
	if _, err := s.f.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, phi.E(phi.KindInvalidInput, "chunk.FileSource.ReadWindow", err)
	}
	return buf, nil
}

func (s *FileSource) Signature() (string, error) {
	window := s.size
	if window > signatureWindow {
		window = signatureWindow
	}
	buf := make([]byte, window)
	if _, err := s.f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return "", phi.E(phi.KindInvalidInput, "chunk.FileSource.Signature", err)
	}
	return contentSignature(buf, s.size), nil
}

func (s *FileSource) Close() error { return s.f.Close() }

// contentSignature folds the head hash and total size into one hex string.
func contentSignature(head []byte, totalSize int64) string {
	sum := sha256.Sum256(head)
	return fmt.Sprintf("%s-%x", hex.EncodeToString(sum[:8]), totalSize)
}
