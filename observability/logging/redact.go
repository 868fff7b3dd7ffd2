package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys in this set are logged verbatim by MaskField.
var plainKeys = map[string]struct{}{
	"addr":      {},
	"amount":    {},
	"asset":     {},
	"caller":    {},
	"component": {},
	"error":     {},
	"listen":    {},
	"operation": {},
	"route":     {},
	"seq":       {},
	"status":    {},
}

// IsPlain reports whether key may be logged without masking.
func IsPlain(key string) bool {
	_, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskToken keeps the last four characters of a bearer credential so
// operators can correlate rejected requests.
func MaskToken(token string) string {
	trimmed := strings.TrimSpace(token)
	switch {
	case trimmed == "":
		return ""
	case len(trimmed) <= 4:
		return RedactedValue
	default:
		return RedactedValue + trimmed[len(trimmed)-4:]
	}
}

// MaskField redacts value unless key is known to be safe.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsPlain(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
