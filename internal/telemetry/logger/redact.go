package logger

import (
	"log/slog"
	"strings"
)

// Attribute keys containing one of these are masked.
var sensitiveKeyPatterns = []string{
	"password",
	"passwd",
	"requirepass",
	"secret",
	"credential",
	"bearer",
}

// Commands whose arguments carry credentials.
var sensitiveCommands = map[string]bool{
	"AUTH":  true,
	"HELLO": true,
}

const (
	redactedValue = "***REDACTED***"
	maxArgLen     = 64
)

// redactAttr is the handlers' ReplaceAttr. slog calls it for attributes
// nested in groups too.
func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup || !IsSensitiveKey(a.Key) {
		return a
	}
	if a.Value.Kind() == slog.KindString && a.Value.String() == "" {
		return a
	}
	return slog.String(a.Key, redactedValue)
}

// RedactArgs renders command arguments for logging. Arguments of AUTH and
// HELLO are masked and long values are cut.
func RedactArgs(args [][]byte) []string {
	out := make([]string, len(args))
	if len(args) == 0 {
		return out
	}
	out[0] = string(args[0])
	hide := sensitiveCommands[strings.ToUpper(out[0])]
	for i, arg := range args[1:] {
		switch {
		case hide:
			out[i+1] = redactedValue
		case len(arg) > maxArgLen:
			out[i+1] = string(arg[:maxArgLen-3]) + "..."
		default:
			out[i+1] = string(arg)
		}
	}
	return out
}

// IsSensitiveKey reports whether an attribute key names a credential.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, p := range sensitiveKeyPatterns {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}
