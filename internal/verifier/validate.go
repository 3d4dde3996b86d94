package verifier

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Decision is the validated verdict for one ambiguous candidate.
type Decision struct {
	IsHeading       bool    `json:"is_heading"`
	Level           int     `json:"level"`
	NormalizedTitle string  `json:"normalized_title"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
}

var allowedReasons = map[string]struct{}{
	"title":     {},
	"metadata":  {},
	"footnote":  {},
	"pagehead":  {},
	"body_line": {},
}

var requiredFields = []string{"confidence", "is_heading", "level", "normalized_title", "reason"}

// ValidateDecision parses a raw model payload against the closed decision
// schema. Any deviation (missing field, extra field, out-of-range value,
// unknown reason) rejects the payload.
func ValidateDecision(raw string) (Decision, error) {
	var empty Decision

	var fields map[string]json.RawMessage
	if err := DecodeModelJSON(raw, &fields); err != nil {
		return empty, fmt.Errorf("decision payload: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if !equalStrings(keys, requiredFields) {
		return empty, fmt.Errorf("decision payload: field set %v, want %v", keys, requiredFields)
	}

	var decision Decision
	if err := DecodeModelJSON(raw, &decision); err != nil {
		return empty, fmt.Errorf("decision payload: %w", err)
	}

	if decision.Level != 2 && decision.Level != 3 {
		return empty, fmt.Errorf("decision payload: level %d outside {2, 3}", decision.Level)
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		return empty, fmt.Errorf("decision payload: confidence %v outside [0, 1]", decision.Confidence)
	}
	decision.Reason = strings.TrimSpace(decision.Reason)
	if _, ok := allowedReasons[decision.Reason]; !ok {
		return empty, fmt.Errorf("decision payload: unknown reason %q", decision.Reason)
	}
	decision.NormalizedTitle = strings.TrimSpace(decision.NormalizedTitle)
	return decision, nil
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
