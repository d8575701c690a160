package logging

import (
	"regexp"
	"strings"
)

// Key fragments that mark a field as sensitive.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"authorization",
	"credential",
	"dsn",
}

type secretPattern struct {
	re          *regexp.Regexp
	replacement string
}

var secretPatterns = []secretPattern{
	{regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`), RedactedValue},                                    // OpenAI
	{regexp.MustCompile(`pat[a-zA-Z0-9]{14}\.[a-f0-9]{64}`), RedactedValue},                         // Airtable personal access token
	{regexp.MustCompile(`\bkey[a-zA-Z0-9]{14}\b`), RedactedValue},                                   // legacy Airtable key
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`), RedactedValue},                         // Authorization header values
	{regexp.MustCompile(`(postgres(?:ql)?://[^:\s]+:)[^@\s]+(@)`), "${1}" + RedactedValue + "${2}"}, // postgres URL password
	{regexp.MustCompile(`(?i)(key|token|secret|password)[=:]["']?[a-zA-Z0-9+/=_-]{32,}["']?`), RedactedValue},
}

// RedactedValue replaces sensitive values.
const RedactedValue = "[REDACTED]"

// Redact masks secrets found in s.
func Redact(s string) string {
	result := s
	for _, p := range secretPatterns {
		result = p.re.ReplaceAllString(result, p.replacement)
	}
	return result
}

// RedactMap returns a copy of m with sensitive keys masked. Nested maps are
// walked.
func RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch {
		case IsSensitiveField(k):
			if s, ok := v.(string); ok && s == "" {
				result[k] = ""
			} else {
				result[k] = RedactedValue
			}
		case isMap(v):
			result[k] = RedactMap(v.(map[string]any))
		default:
			if s, ok := v.(string); ok {
				result[k] = Redact(s)
			} else {
				result[k] = v
			}
		}
	}
	return result
}

func isMap(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// RedactEnv masks the values of sensitive KEY=value entries.
func RedactEnv(env []string) []string {
	result := make([]string, len(env))
	for i, entry := range env {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			result[i] = entry
			continue
		}
		if IsSensitiveField(key) {
			result[i] = key + "=" + RedactedValue
		} else {
			result[i] = key + "=" + Redact(value)
		}
	}
	return result
}

// IsSensitiveField reports whether name looks like it holds a secret.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}
