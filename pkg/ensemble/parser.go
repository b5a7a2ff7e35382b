package ensemble

import (
	"encoding/json"
	"strings"

	"github.com/foresight-labs/foresight/pkg/models"
)

// parsedAssessment is the JSON shape analysts are prompted to emit.
type parsedAssessment struct {
	Direction  string   `json:"direction"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	KeyFactors []string `json:"key_factors"`
	Risks      []string `json:"risks"`
}

// ParseAssessment extracts the first balanced {...} JSON object from an LLM
// response and maps it to a direction, confidence and reasoning. Models wrap
// JSON in prose or markdown fences often enough that a full-body unmarshal is
// not workable.
//
// Unparseable responses degrade to neutral at confidence 0.5 with the raw
// text as reasoning; a garbled analyst never sinks the ensemble.
func ParseAssessment(raw string) (models.SignalDirection, float64, string, []string, []string) {
	obj, ok := firstJSONObject(raw)
	if ok {
		var parsed parsedAssessment
		if err := json.Unmarshal([]byte(obj), &parsed); err == nil && parsed.Direction != "" {
			return models.NormalizeDirection(parsed.Direction),
				clampConfidence(parsed.Confidence),
				parsed.Reasoning,
				parsed.KeyFactors,
				parsed.Risks
		}
	}
	return models.SignalNeutral, 0.5, strings.TrimSpace(raw), nil, nil
}

// firstJSONObject returns the first brace-balanced object in s, tracking
// string literals so braces inside values do not break the scan.
func firstJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
