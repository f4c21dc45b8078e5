// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package evaluation

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// LoadPairs reads labeled spans from a file. Two layouts are accepted:
// a JSON array of {"text","type"} objects, or JSONL with one object per
// line. The CLI feeds both prediction and ground-truth files through here.
func LoadPairs(path string) ([]Pair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, phi.E(phi.KindInvalidInput, "evaluation.LoadPairs", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, phi.Errorf(phi.KindInvalidInput, "evaluation.LoadPairs", "%s is empty", path)
	}

	if strings.HasPrefix(trimmed, "[") {
		var pairs []Pair
		if err := json.Unmarshal([]byte(trimmed), &pairs); err != nil {
			return nil, phi.E(phi.KindInvalidInput, "evaluation.LoadPairs", err)
		}
		return pairs, nil
	}

	var pairs []Pair
	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var p Pair
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			return nil, phi.Errorf(phi.KindInvalidInput, "evaluation.LoadPairs",
				"%s line %d: %v", path, lineNum, err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// WriteReport persists the evaluation report as indented JSON.
func WriteReport(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return phi.E(phi.KindInternal, "evaluation.WriteReport", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return phi.E(phi.KindInternal, "evaluation.WriteReport", err)
	}
	return nil
}
