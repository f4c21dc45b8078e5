// Copyright (C) 2026 SafeHarbor AI (oss@safeharborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package identify

import (
	"encoding/json"

	"github.com/SafeHarborAI/safeharbor/pkg/llm"
	"github.com/SafeHarborAI/safeharbor/pkg/phi"
)

// rawEntity mirrors the JSON shape the model is instructed to emit. Every
// field is suspect until postProcess validates it.
type rawEntity struct {
	Type                  string  `json:"type"`
	Text                  string  `json:"text"`
	StartPos              int     `json:"start_pos"`
	EndPos                int     `json:"end_pos"`
	Confidence            float64 `json:"confidence"`
	Reason                string  `json:"reason"`
	RegulationSource      string  `json:"regulation_source"`
	CustomTypeName        string  `json:"custom_type_name"`
	CustomTypeDescription string  `json:"custom_type_description"`
}

// detectionResponse is the top-level reply object.
type detectionResponse struct {
	Entities []rawEntity `json:"entities"`
}

// ParseResponse extracts and decodes the model's JSON reply. A reply that
// is not a JSON object with an "entities" array is an LLM error; the chunk
// fails rather than silently passing PHI through unmasked.
func ParseResponse(raw string) (detectionResponse, error) {
	var resp detectionResponse
	cleaned := llm.ExtractJSON(raw)
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return detectionResponse{}, phi.Errorf(phi.KindLLM, "identify.ParseResponse",
			"model reply is not valid detection JSON: %v", err)
	}
	return resp, nil
}
