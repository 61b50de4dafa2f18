package tool

import (
	"regexp"
	"strings"
)

var (
	scriptTagPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>|<script\b[^>]*/?>`)
	eventAttrPattern = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
)

// Dangerous URI schemes embedded in otherwise plain arguments.
var injectionSchemes = []string{
	"javascript:",
	"vbscript:",
	"data:text/html",
}

// sanitizeString strips script-like substrings and neutralizes
// scheme-prefixed injection patterns. Tool handlers receive only the
// cleaned value; nothing here is reversible.
func sanitizeString(s string) string {
	s = scriptTagPattern.ReplaceAllString(s, "")
	s = eventAttrPattern.ReplaceAllString(s, "")

	lower := strings.ToLower(s)
	for _, scheme := range injectionSchemes {
		for {
			idx := strings.Index(lower, scheme)
			if idx < 0 {
				break
			}
			s = s[:idx] + s[idx+len(scheme):]
			lower = strings.ToLower(s)
		}
	}
	return s
}

// sanitizeArgs returns a copy of args with all string values (including
// strings nested in arrays and objects) sanitized.
func sanitizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return sanitizeString(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	case map[string]any:
		return sanitizeArgs(val)
	default:
		return v
	}
}
