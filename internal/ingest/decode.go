// Sentinel - Telemetry Ingestion, Rule Evaluation and Alert Dispatch
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sentinel

package ingest

import (
	"bytes"

	"github.com/goccy/go-json"

	"github.com/tomtom215/sentinel/internal/apperrors"
	"github.com/tomtom215/sentinel/internal/models"
)

// RawRequest is an ingest body whose entries are decoded one at a time.
type RawRequest struct {
	Logs []json.RawMessage `json:"logs"`
}

// stringFields must be JSON strings when present.
var stringFields = []string{"timestamp", "level", "message", "traceId", "requestId"}

// DecodeEntries decodes the elements of a logs array. The first element that
// is not an object, or that carries a field of the wrong JSON type, fails the
// batch with a ValidationError naming its index and field.
func DecodeEntries(raw []json.RawMessage) ([]models.LogEntryInput, error) {
	entries := make([]models.LogEntryInput, len(raw))
	for i, r := range raw {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(r, &fields); err != nil || fields == nil {
			return nil, &apperrors.ValidationError{Index: i, Reason: "entry must be a JSON object"}
		}
		for _, name := range stringFields {
			v, ok := fields[name]
			if !ok {
				continue
			}
			v = bytes.TrimSpace(v)
			if bytes.Equal(v, []byte("null")) {
				continue
			}
			if len(v) == 0 || v[0] != '"' {
				return nil, &apperrors.ValidationError{Index: i, Field: name, Reason: "must be a JSON string"}
			}
		}
		if err := json.Unmarshal(r, &entries[i]); err != nil {
			return nil, &apperrors.ValidationError{Index: i, Reason: err.Error()}
		}
	}
	return entries, nil
}
