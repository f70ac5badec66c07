package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// RedactedValue is the placeholder string used for redacted secrets.
const RedactedValue = "[REDACTED]"

// redactPatterns match secret material embedded in free-form strings. Each
// pattern's first group is kept, the secret value is replaced.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(authorization\s*[:=]\s*"?)(?:bearer\s+|basic\s+)?[^\s,;"']+`),
	regexp.MustCompile(`(?i)\b(bearer\s+|basic\s+)[A-Za-z0-9\-._~+/]+=*`),
	regexp.MustCompile(`(?i)("?password"?\s*[:=]\s*)(?:"[^"]*"|[^\s,;"']+)`),
	regexp.MustCompile(`(?i)("?(?:access|refresh)_token(?:_cookie)?"?\s*[:=]\s*)(?:"[^"]*"|[^\s,;"']+)`),
	regexp.MustCompile(`(?i)(set-cookie\s*[:=]\s*)[^\r\n]+`),
	regexp.MustCompile(`(?i)\b(cookie\s*[:=]\s*)[^\r\n]+`),
	regexp.MustCompile(`(?i)(x-csrf-token\s*[:=]\s*"?)[^\s,;"']+`),
	regexp.MustCompile(`(?i)("?csrf_token"?\s*[:=]\s*"?)[^\s,;"']+`),
	regexp.MustCompile(`(?i)(x-api-key\s*[:=]\s*"?)[^\s,;"']+`),
	regexp.MustCompile(`(?i)("?api_key"?\s*[:=]\s*)(?:"[^"]*"|[^\s,;"']+)`),
}

// sensitiveKeyParts mark field keys whose entire value is a secret.
var sensitiveKeyParts = []string{
	"password", "secret", "token", "cookie", "authorization",
	"csrf", "api_key", "apikey",
}

// Redact scrubs secret values from a string, leaving the surrounding text.
func Redact(s string) string {
	for _, p := range redactPatterns {
		s = p.ReplaceAllString(s, "${1}"+RedactedValue)
	}
	return s
}

// IsSensitiveKey reports whether a field key names a secret.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// redactingCore scrubs messages and field values before delegating to the
// wrapped core. Error fields are flattened to redacted strings so wrapped
// errors cannot leak credentials either.
type redactingCore struct {
	zapcore.Core
}

// NewRedactingCore wraps a core with secret redaction.
func NewRedactingCore(c zapcore.Core) zapcore.Core {
	return &redactingCore{Core: c}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = Redact(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			if IsSensitiveKey(f.Key) {
				f.String = RedactedValue
			} else {
				f.String = Redact(f.String)
			}
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok && err != nil {
				f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: Redact(err.Error())}
			}
		case zapcore.ByteStringType:
			if IsSensitiveKey(f.Key) {
				f.Interface = []byte(RedactedValue)
			}
		}
		out[i] = f
	}
	return out
}
