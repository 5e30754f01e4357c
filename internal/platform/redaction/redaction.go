// Package redaction centralizes secret recognition so logs, audit entries,
// and any structure handed back across a trust boundary never carry
// plaintext credentials.
package redaction

import (
	"regexp"
	"strings"

	"github.com/sentryfrogg/engine/internal/dynvalue"
)

const Mask = "***REDACTED***"

// blockedFieldSubstrings flags a map key as secret-bearing when its
// lower-cased name contains any of these.
var blockedFieldSubstrings = []string{
	"password",
	"secret",
	"token",
	"apikey",
	"api_key",
	"private_key",
	"privkey",
	"credential",
	"authorization",
	"passphrase",
	"client_secret",
	"access_key",
	"aws_secret",
}

// secretLooking recognizes bearer tokens, JWTs, PEM blocks, and AWS-style
// access keys embedded in otherwise unremarkable strings.
var secretLooking = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Bearer\s+[a-zA-Z0-9_\-\.]+`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), // JWT
	regexp.MustCompile(`-----BEGIN [A-Z ]+PRIVATE KEY-----[\s\S]+?-----END [A-Z ]+PRIVATE KEY-----`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`), // AWS access key id
}

// IsSecretField reports whether a field name should always be masked
// regardless of its value's shape.
func IsSecretField(name string) bool {
	lower := strings.ToLower(name)
	for _, blocked := range blockedFieldSubstrings {
		if strings.Contains(lower, blocked) {
			return true
		}
	}
	return false
}

// RedactString masks any secret-looking substrings within s.
func RedactString(s string) string {
	out := s
	for _, pattern := range secretLooking {
		out = pattern.ReplaceAllString(out, Mask)
	}
	return out
}

// Value returns a redacted deep copy of v: map entries whose key looks like
// a secret field are fully masked; every remaining string is scanned for
// secret-looking substrings.
func Value(v dynvalue.Value) dynvalue.Value {
	return dynvalue.Walk(v, func(path string, val dynvalue.Value) dynvalue.Value {
		m, ok := dynvalue.AsMap(val)
		if !ok {
			if s, ok := dynvalue.IsString(val); ok {
				return RedactString(s)
			}
			return val
		}
		out := make(map[string]interface{}, len(m))
		for k, fv := range m {
			if IsSecretField(k) {
				out[k] = Mask
				continue
			}
			out[k] = fv
		}
		return out
	})
}

// StringMap redacts a flat map of string key/value pairs, as used by
// request-argument audit capture before a full dynvalue conversion.
func StringMap(m map[string]interface{}) map[string]interface{} {
	v, ok := Value(dynvalue.DeepCopy(m)).(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return v
}
