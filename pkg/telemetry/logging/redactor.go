package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// Redacted replaces the value of a sensitive attribute.
const Redacted = "***"

// defaultSensitiveKeys are attribute key fragments whose values are masked.
var defaultSensitiveKeys = []string{
	"password", "passwd", "pwd",
	"secret", "token", "api_key", "apikey",
	"authorization", "session_id", "private_key",
}

// Redactor masks sensitive values in log attributes.
type Redactor struct {
	keys     []string
	patterns []redactPattern
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	regex       *regexp.Regexp
	replacement string
}

// NewRedactor creates a Redactor with the built-in sensitive keys plus
// extraKeys. Key matching is case-insensitive and by substring.
func NewRedactor(extraKeys []string) *Redactor {
	r := &Redactor{keys: append([]string(nil), defaultSensitiveKeys...)}
	for _, k := range extraKeys {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			r.keys = append(r.keys, k)
		}
	}
	r.patterns = []redactPattern{
		{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-._~+/]+=*`), "Bearer " + Redacted},
		{regexp.MustCompile(`(password|passwd|pwd)[:=]\s*[^\s&]+`), "$1=" + Redacted},
		{regexp.MustCompile(`(token|api_key|apikey)=[^\s&]+`), "$1=" + Redacted},
	}
	return r
}

// ReplaceAttr is a slog.HandlerOptions.ReplaceAttr function. Values of
// sensitive keys are replaced entirely; other string values have embedded
// credentials masked.
func (r *Redactor) ReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return a
	}
	if r.IsSensitiveKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	if a.Value.Kind() == slog.KindString {
		if s := r.RedactString(a.Value.String()); s != a.Value.String() {
			return slog.String(a.Key, s)
		}
	}
	return a
}

// IsSensitiveKey reports whether values under key are masked.
func (r *Redactor) IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range r.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// RedactString masks credentials embedded in a string value.
func (r *Redactor) RedactString(value string) string {
	if value == "" {
		return value
	}
	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}
