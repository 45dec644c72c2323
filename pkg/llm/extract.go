package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject pulls the first balanced JSON object out of free-form
// completion text. Models frequently wrap JSON in prose or code fences; the
// decision layers validate the extracted object against a strict per-phase
// schema and fall back to deterministic paths when nothing parses.
func ExtractJSONObject(text string) ([]byte, bool) {
	cleaned := strings.TrimSpace(text)
	if fenced, ok := stripCodeFence(cleaned); ok {
		cleaned = fenced
	}

	start := strings.IndexByte(cleaned, '{')
	if start < 0 {
		return nil, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					candidate := []byte(cleaned[start : i+1])
					if json.Valid(candidate) {
						return candidate, true
					}
					return nil, false
				}
			}
		}
	}
	return nil, false
}

func stripCodeFence(text string) (string, bool) {
	if !strings.HasPrefix(text, "```") {
		return "", false
	}
	rest := strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}
