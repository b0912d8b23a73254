package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "***"

// credentialTokens hide any key that contains them: intake signatures, the
// internal token, JWT material, the Telegram bot token.
var credentialTokens = []string{
	"password",
	"token",
	"apikey",
	"secret",
	"authorization",
	"signature",
	"privatekey",
	"cookie",
}

// memberIdentifiers are the personal fields the registration and LINE-bot
// collaborators attach to intake payloads. The value keeps a short suffix so
// support can still match a log line against a member record.
var memberIdentifiers = map[string]int{
	"phone":          3,
	"phonenumber":    3,
	"mobile":         3,
	"lineuserid":     4,
	"lineid":         4,
	"carriercode":    2,
	"invoicecarrier": 2,
	"email":          0,
}

func SanitizeFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}

	sanitized := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if isCredentialKey(field.Key) {
			sanitized = append(sanitized, zap.String(field.Key, redacted))
			continue
		}

		encoded := encodeField(field)
		value, ok := encoded[field.Key]
		if !ok {
			sanitized = append(sanitized, field)
			continue
		}

		sanitized = append(sanitized, zap.Any(field.Key, sanitizeAny(field.Key, value)))
	}

	return sanitized
}

func sanitizeAny(parentKey string, value interface{}) interface{} {
	if isCredentialKey(parentKey) {
		return redacted
	}

	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = sanitizeAny(k, v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeAny(parentKey, item))
		}
		return out
	case string:
		if keep, ok := identifierSuffix(parentKey); ok {
			return maskIdentifier(typed, keep)
		}
		return typed
	default:
		if _, ok := identifierSuffix(parentKey); ok {
			return redacted
		}
		return typed
	}
}

// identifierSuffix matches keys such as member_phone or payload.line_user_id.
func identifierSuffix(key string) (int, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return 0, false
	}
	for suffix, keep := range memberIdentifiers {
		if strings.HasSuffix(normalized, suffix) {
			return keep, true
		}
	}
	return 0, false
}

// maskIdentifier keeps the last keep runes, and only when at least twice as
// many are hidden.
func maskIdentifier(value string, keep int) string {
	runes := []rune(strings.TrimSpace(value))
	if keep <= 0 || len(runes) < keep*3 {
		return redacted
	}
	return redacted + string(runes[len(runes)-keep:])
}

func encodeField(field zap.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	field.AddTo(enc)

	out := make(map[string]interface{}, len(enc.Fields))
	for k, v := range enc.Fields {
		out[k] = v
	}
	return out
}

func normalizeKey(key string) string {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.ReplaceAll(normalized, "-", "")
	return strings.ReplaceAll(normalized, "_", "")
}

func isCredentialKey(key string) bool {
	normalized := normalizeKey(key)
	if normalized == "" {
		return false
	}

	for _, token := range credentialTokens {
		if strings.Contains(normalized, token) {
			return true
		}
	}
	return false
}
