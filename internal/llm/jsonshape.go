package llm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/reflective-memory-kernel/internal/jsonx"
)

var thinkTagPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

func stripThinkingTags(content string) string {
	return strings.TrimSpace(thinkTagPattern.ReplaceAllString(content, ""))
}

// parseJSONFromResponse scans response backwards from the last
// occurrence of the closing bracket that matches the first opening
// bracket, trying each candidate substring until one parses. LLMs
// frequently trail valid JSON with explanatory prose; this recovers
// the JSON without requiring the model to emit nothing else.
func parseJSONFromResponse(response string) (map[string]interface{}, error) {
	if response == "" {
		return nil, fmt.Errorf("empty response")
	}

	startIdx := -1
	for i, c := range response {
		if c == '[' || c == '{' {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object or array found in response")
	}

	textToParse := response[startIdx:]
	closer := byte('}')
	if response[startIdx] == '[' {
		closer = byte(']')
	}

	for i := len(textToParse) - 1; i >= 0; i-- {
		if textToParse[i] != closer {
			continue
		}
		candidate := textToParse[:i+1]
		var result interface{}
		if err := jsonx.Unmarshal([]byte(candidate), &result); err != nil {
			continue
		}
		switch v := result.(type) {
		case map[string]interface{}:
			return v, nil
		case []interface{}:
			return map[string]interface{}{"items": v}, nil
		}
	}

	return nil, fmt.Errorf("no valid JSON found in response")
}

// coerceShape applies the small set of defensive reshapes every
// caller of JSON() is allowed to rely on, instead of re-implementing
// them at each call site.
func coerceShape(m map[string]interface{}) map[string]interface{} {
	if items, ok := m["items"]; ok {
		if _, hasExtracted := m["extracted_entities"]; !hasExtracted {
			m["extracted_entities"] = items
		}
	}

	if dup, ok := m["duplicates"]; ok {
		switch v := dup.(type) {
		case []interface{}:
			// already a list
		case nil:
			m["duplicates"] = []interface{}{}
		default:
			m["duplicates"] = []interface{}{v}
		}
	}

	if idx, ok := m["duplicate_idx"]; ok {
		m["duplicate_idx"] = coerceInt(idx, -1)
	} else {
		m["duplicate_idx"] = -1
	}

	return m
}

func coerceInt(v interface{}, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
		return fallback
	default:
		return fallback
	}
}
