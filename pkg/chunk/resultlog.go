// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chunk

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// resultLog is the append-only JSONL record of emitted chunk results. The
// checkpoint points at it, so a resumed run can recover the detections of
// chunks it will not reprocess.
type resultLog struct {
	f *os.File
}

func openResultLog(path string) (*resultLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, phi.E(phi.KindCheckpoint, "chunk.openResultLog", err)
	}
	return &resultLog{f: f}, nil
}

// Append writes one result as a JSON line. A failure is a checkpoint error:
// a result that never reaches the log cannot be replayed on resume.
func (l *resultLog) Append(r Result) error {
	line, err := json.Marshal(r)
	if err != nil {
		return phi.E(phi.KindCheckpoint, "chunk.resultLog.Append", err)
	}
	line = append(line, '\n')
	if _, err := l.f.Write(line); err != nil {
		return phi.E(phi.KindCheckpoint, "chunk.resultLog.Append", err)
	}
	return nil
}

func (l *resultLog) Close() error { return l.f.Close() }

// readResultLog loads the stored results keyed by chunk ID. Unparseable
// lines (a torn tail from a crash mid-append) are skipped; such chunks are
// unmarked in the checkpoint and reprocess anyway. The last line wins when a
// chunk appears twice.
func readResultLog(path string) (map[int]Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, phi.E(phi.KindCheckpoint, "chunk.readResultLog", err)
	}
	out := make(map[int]Result)
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var r Result
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		out[r.ChunkID] = r
	}
	return out, nil
}
