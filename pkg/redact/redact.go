// Package redact strips secret material from evidence snippets before they
// are persisted. The pattern set is the rules-of-engagement baseline; custom
// patterns can be layered on from configuration.
package redact

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns is the rules-of-engagement baseline. Order matters: more
// specific token formats run before the generic key/value patterns.
var builtinPatterns = []struct {
	name        string
	pattern     string
	replacement string
}{
	{"authorization_header", `(?i)(authorization:\s*(?:bearer|basic|token)\s+)[A-Za-z0-9\-._~+/=]+`, "${1}[REDACTED]"},
	{"jwt", `eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]*`, "[REDACTED_JWT]"},
	{"aws_access_key", `(?:AKIA|ASIA)[A-Z0-9]{16}`, "[REDACTED_AWS_KEY]"},
	{"private_key_block", `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`, "[REDACTED_PRIVATE_KEY]"},
	{"url_credentials", `(?i)(https?://)[^/\s:@]+:[^/\s:@]+@`, "${1}[REDACTED]@"},
	{"api_key_assignment", `(?i)((?:api[_-]?key|apikey|access[_-]?token|secret[_-]?key|client[_-]?secret)["']?\s*[:=]\s*["']?)[A-Za-z0-9\-._~+/]{8,}`, "${1}[REDACTED]"},
	{"password_assignment", `(?i)((?:password|passwd|pwd)["']?\s*[:=]\s*["']?)[^\s"'&]+`, "${1}[REDACTED]"},
	{"set_cookie", `(?i)(set-cookie:\s*[^=\s]+=)[^;\s]+`, "${1}[REDACTED]"},
}

// Redactor applies the compiled rules-of-engagement pattern set.
type Redactor struct {
	patterns []*CompiledPattern
}

// CustomPattern is a user-supplied redaction rule from configuration.
type CustomPattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// NewRedactor compiles the builtin pattern set plus any custom patterns.
// Invalid custom patterns are logged and skipped; builtins are vetted and
// always compile.
func NewRedactor(custom ...CustomPattern) *Redactor {
	r := &Redactor{}
	for _, p := range builtinPatterns {
		r.patterns = append(r.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       regexp.MustCompile(p.pattern),
			Replacement: p.replacement,
		})
	}
	for _, p := range custom {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile custom redaction pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		repl := p.Replacement
		if repl == "" {
			repl = "[REDACTED]"
		}
		r.patterns = append(r.patterns, &CompiledPattern{
			Name:        p.Name,
			Regex:       compiled,
			Replacement: repl,
		})
	}
	return r
}

// Redact applies every pattern to s and returns the sanitized result.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// RedactEvidence sanitizes the string fields of an evidence item in place
// on a copy. Non-string fields pass through untouched.
func (r *Redactor) RedactEvidence(item map[string]any) map[string]any {
	out := make(map[string]any, len(item))
	for k, v := range item {
		if s, ok := v.(string); ok && k != "sha256" {
			out[k] = r.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

// RedactProperties sanitizes the evidence array and known snippet-bearing
// string properties of a node property map, returning a new map.
func (r *Redactor) RedactProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	if ev, ok := out["evidence"].([]any); ok {
		sanitized := make([]any, 0, len(ev))
		for _, item := range ev {
			if m, ok := item.(map[string]any); ok {
				sanitized = append(sanitized, r.RedactEvidence(m))
				continue
			}
			if s, ok := item.(string); ok {
				sanitized = append(sanitized, r.Redact(s))
				continue
			}
			sanitized = append(sanitized, item)
		}
		out["evidence"] = sanitized
	}
	for _, key := range []string{"snippet", "detail", "value", "raw_headers"} {
		if s, ok := out[key].(string); ok {
			out[key] = r.Redact(s)
		}
	}
	return out
}
