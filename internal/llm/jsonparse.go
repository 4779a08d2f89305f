package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// extractJSON trims markdown fences and prose around the first JSON value in text
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// decodeRaw returns the JSON value contained in a model response. Responses
// that are not valid JSON get one pass through jsonrepair before the failure
// becomes a ParseError.
func decodeRaw(text string) (json.RawMessage, error) {
	candidate := extractJSON(text)
	if candidate == "" {
		return nil, &ParseError{Reason: "empty response", Raw: text}
	}

	var raw json.RawMessage
	err := json.Unmarshal([]byte(candidate), &raw)
	if err == nil {
		return raw, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(candidate)
	if repairErr != nil {
		return nil, &ParseError{Reason: "invalid JSON", Raw: text, Err: err}
	}
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		return nil, &ParseError{Reason: "invalid JSON after repair", Raw: text, Err: err}
	}
	return raw, nil
}

// decodeList decodes either a bare JSON array or an object holding the array under key
func decodeList[T any](text, key string) ([]T, error) {
	raw, err := decodeRaw(text)
	if err != nil {
		return nil, err
	}

	body := bytes.TrimSpace(raw)
	if len(body) > 0 && body[0] == '{' {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, &ParseError{Reason: "unexpected JSON shape", Raw: text, Err: err}
		}
		field, ok := wrapper[key]
		if !ok {
			return nil, &ParseError{Reason: fmt.Sprintf("missing %q field", key), Raw: text}
		}
		body = field
	}

	var list []T
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, &ParseError{Reason: "unexpected JSON shape", Raw: text, Err: err}
	}
	return list, nil
}
