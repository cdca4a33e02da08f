package logger

import "strings"

var secretKeyHints = []string{"key", "secret", "token", "password", "dsn", "database_url"}

// redactSecretValue masks values whose key names look like credentials.
// "sk_live_abc123" under key "api_key" → "sk***" (first two chars kept).
func redactSecretValue(key, val string) string {
	key = strings.ToLower(key)
	for _, hint := range secretKeyHints {
		if strings.Contains(key, hint) {
			return RedactSecret(val)
		}
	}
	return val
}

// RedactSecret masks a credential for safe logging, keeping only a two-char
// prefix. Short values are fully masked.
func RedactSecret(s string) string {
	if len(s) > 2 {
		return s[:2] + "***"
	}
	return "***"
}
