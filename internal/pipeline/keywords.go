package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	errNoJSON     = errors.New("no JSON object in reply")
	errNoKeywords = errors.New("JSON object has no keywords")
)

// ExtractJSON returns the first brace-balanced object in text, or "" when
// there is none. Braces inside JSON strings are skipped.
func ExtractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return text[start : i+1]
			}
		}
	}
	return ""
}

// ParseKeywords reads the values of the JSON object in raw, in document order.
// String values and arrays of strings are accepted; duplicates are dropped
// case-insensitively.
func ParseKeywords(raw string) ([]string, error) {
	obj := ExtractJSON(raw)
	if obj == "" {
		return nil, errNoJSON
	}
	dec := json.NewDecoder(strings.NewReader(obj))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode keywords: expected object, got %v", tok)
	}
	var values []string
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode keywords: %w", err)
		}
		switch val := v.(type) {
		case string:
			values = append(values, val)
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					values = append(values, s)
				}
			}
		}
	}
	keywords := ProfileKeywords(values)
	if len(keywords) == 0 {
		return nil, errNoKeywords
	}
	return keywords, nil
}
