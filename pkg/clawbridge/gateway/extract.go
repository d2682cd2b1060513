// extract.go recovers human-readable assistant text from the arbitrarily
// shaped JSON trees different providers return: OpenAI-style
// choices[].message.content, nested output_text/content/delta variants,
// and anything in between.
package gateway

import (
	"sort"
	"strings"
)

// maxExtractDepth bounds the recursive walk against pathological nesting.
const maxExtractDepth = 8

// priorityKeys are tried in order on every object before any other key.
// Priority matches must win over incidental ones, so the fallback scan
// only runs after all of these have been exhausted.
var priorityKeys = []string{
	"output_text",
	"text",
	"content",
	"message",
	"response",
	"answer",
	"choices",
	"output",
	"delta",
}

// ExtractText walks a decoded JSON value looking for the most likely
// assistant text. Strings are returned trimmed; array elements are joined
// with newlines; objects try the priority keys first and then the
// remaining keys in sorted order, so the result is deterministic. Returns
// "" when nothing non-empty is found.
func ExtractText(v any) string {
	return extractText(v, 0)
}

func extractText(v any, depth int) string {
	if depth > maxExtractDepth {
		return ""
	}

	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)

	case []any:
		var parts []string
		for _, item := range val {
			if text := extractText(item, depth+1); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")

	case map[string]any:
		tried := make(map[string]bool, len(priorityKeys))
		for _, key := range priorityKeys {
			tried[key] = true
			nested, ok := val[key]
			if !ok {
				continue
			}
			if text := extractText(nested, depth+1); text != "" {
				return text
			}
		}

		// Fallback: scan remaining keys in sorted order so the walk stays
		// reproducible regardless of map iteration order.
		rest := make([]string, 0, len(val))
		for key := range val {
			if !tried[key] {
				rest = append(rest, key)
			}
		}
		sort.Strings(rest)
		for _, key := range rest {
			if text := extractText(val[key], depth+1); text != "" {
				return text
			}
		}
	}

	// Numbers, booleans, and null never carry assistant text.
	return ""
}
