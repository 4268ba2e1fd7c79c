package toolgen

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kadirpekel/ollamagate/pkg/protocol"
	"github.com/kadirpekel/ollamagate/pkg/tools"
)

var (
	// Matches "1. Tool: create_file" headers in the numbered format.
	numberedHeader = regexp.MustCompile(`(?m)^\s*\d+\.\s*Tool:\s*(\S+)\s*$`)
	// Matches "- key: value" param lines under a header.
	paramLine = regexp.MustCompile(`^\s*-\s*([A-Za-z_][A-Za-z0-9_]*)\s*:\s*(.*)$`)
	// Finds a JSON array embedded in surrounding prose or code fences.
	jsonArray = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)
)

// ParsePlan extracts tool specs from model output. JSON is tried first,
// both bare and embedded in prose or fences; the numbered text format is
// the fallback.
func ParsePlan(text string) ([]tools.Spec, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, protocol.Errorf(protocol.KindInvalidPlan, "empty plan text")
	}

	if specs, ok := parseJSON(text); ok {
		return specs, nil
	}
	if match := jsonArray.FindString(text); match != "" {
		if specs, ok := parseJSON(match); ok {
			return specs, nil
		}
	}
	if specs := parseNumbered(text); len(specs) > 0 {
		return specs, nil
	}
	return nil, protocol.Errorf(protocol.KindInvalidPlan, "unrecognized plan format")
}

func parseJSON(text string) ([]tools.Spec, bool) {
	var specs []tools.Spec
	if err := json.Unmarshal([]byte(text), &specs); err == nil && len(specs) > 0 {
		return specs, true
	}

	// Some models wrap the array in an object.
	var wrapped struct {
		Tools []tools.Spec `json:"tools"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err == nil && len(wrapped.Tools) > 0 {
		return wrapped.Tools, true
	}
	return nil, false
}

func parseNumbered(text string) []tools.Spec {
	lines := strings.Split(text, "\n")
	var specs []tools.Spec
	var current *tools.Spec

	for _, line := range lines {
		if m := numberedHeader.FindStringSubmatch(line); m != nil {
			if current != nil {
				specs = append(specs, *current)
			}
			current = &tools.Spec{
				Name:     strings.ToLower(m[1]),
				Params:   map[string]any{},
				Priority: len(specs) + 1,
			}
			continue
		}
		if current == nil {
			continue
		}
		if m := paramLine.FindStringSubmatch(line); m != nil {
			key := strings.ToLower(m[1])
			value := strings.TrimSpace(m[2])
			value = strings.Trim(value, `"'`)
			current.Params[key] = value
		}
	}
	if current != nil {
		specs = append(specs, *current)
	}
	return specs
}
