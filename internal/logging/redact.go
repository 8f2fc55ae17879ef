package logging

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Patterns for secrets that should be redacted.
var secretPatterns = []*regexp.Regexp{
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),

	// Generic long hex/base64 strings that look like secrets
	regexp.MustCompile(`(?i)(key|token|secret|password|auth)[=:]["']?([a-zA-Z0-9+/=_-]{32,})["']?`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// defaultTextPreview is how many runes of a message body may reach the logs.
const defaultTextPreview = 12

// Redact replaces sensitive information in a string.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// RedactText shortens a message body for logging. Bodies are user content,
// so only a short prefix and the total length are kept.
func RedactText(text *string) string {
	if text == nil {
		return "<nil>"
	}
	s := *text
	n := utf8.RuneCountInString(s)
	if n <= defaultTextPreview {
		return Redact(s)
	}
	runes := []rune(s)
	return Redact(string(runes[:defaultTextPreview])) + "…(" + strconv.Itoa(n) + " runes)"
}

// RedactURL strips userinfo passwords from connection URLs (redis, nats).
func RedactURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return Redact(raw)
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
