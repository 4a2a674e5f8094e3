// Package logutil keeps secrets and note bodies out of log output.
package logutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ContentPreviewChars is how much of a note's content may appear in a log line.
const ContentPreviewChars = 32

// IsSensitiveLogField returns true when a key likely contains credentials.
func IsSensitiveLogField(key string) bool {
	normalized := normalizeKey(key)
	switch {
	case normalized == "authorization":
		return true
	case strings.Contains(normalized, "token"):
		return true
	case strings.Contains(normalized, "secret"):
		return true
	case strings.Contains(normalized, "password"):
		return true
	case strings.Contains(normalized, "masterkey"):
		return true
	case strings.Contains(normalized, "cookie"):
		return true
	default:
		return false
	}
}

// isPrivateContentField reports keys holding user-authored text. These are
// previewed, not redacted, so logs stay useful for debugging.
func isPrivateContentField(key string) bool {
	return normalizeKey(key) == "content"
}

func normalizeKey(key string) string {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	return strings.ReplaceAll(normalized, "_", "")
}

// FormatHeadersForLog returns stable, redacted header text for logs.
func FormatHeadersForLog(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		values := headers.Values(k)
		if IsSensitiveLogField(k) {
			parts = append(parts, fmt.Sprintf("%s=%q", strings.ToLower(k), "[REDACTED]"))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%q", strings.ToLower(k), strings.Join(values, ", ")))
	}
	return strings.Join(parts, "; ")
}

// FormatBodyForLog redacts credentials and truncates note content in JSON
// bodies, then caps the result at maxBytes. Non-JSON bodies are only capped.
func FormatBodyForLog(contentType string, body []byte, maxBytes int) string {
	if len(body) == 0 {
		return ""
	}
	text := string(body)
	if strings.Contains(strings.ToLower(contentType), "json") {
		var payload any
		if err := json.Unmarshal(body, &payload); err == nil {
			scrub(payload)
			if safe, err := json.Marshal(payload); err == nil {
				text = string(safe)
			}
		}
	}
	if maxBytes > 0 && len(text) > maxBytes {
		return text[:maxBytes] + " [truncated]"
	}
	return text
}

func scrub(v any) {
	switch typed := v.(type) {
	case map[string]any:
		for k, child := range typed {
			switch {
			case IsSensitiveLogField(k):
				typed[k] = "[REDACTED]"
			case isPrivateContentField(k):
				if s, ok := child.(string); ok {
					typed[k] = TruncateForLog(s, ContentPreviewChars)
				}
			default:
				scrub(child)
			}
		}
	case []any:
		for _, child := range typed {
			scrub(child)
		}
	}
}

// TruncateForLog returns a single-line truncated preview for unstructured values.
func TruncateForLog(value string, maxChars int) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	normalized := strings.ReplaceAll(trimmed, "\n", "\\n")
	runes := []rune(normalized)
	if maxChars <= 0 || len(runes) <= maxChars {
		return normalized
	}
	return string(runes[:maxChars]) + "... [truncated]"
}
