// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package redact masks credentials in captured header values and span
// attributes before they leave the process.
package redact

import (
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Placeholder replaces fully redacted values.
const Placeholder = "[REDACTED]"

// Mode determines how much of a value survives redaction.
type Mode string

const (
	// ModeNone leaves values untouched.
	ModeNone Mode = "none"

	// ModeStandard masks values matching the credential patterns.
	ModeStandard Mode = "standard"

	// ModeStrict replaces every string value. Keys are kept.
	ModeStrict Mode = "strict"
)

// ParseMode converts a configuration string. Empty means ModeStandard.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeStandard, nil
	case ModeNone, ModeStandard, ModeStrict:
		return m, nil
	default:
		return "", fmt.Errorf("unknown redaction level %q (want none, standard or strict)", s)
	}
}

// Pattern is a named rewrite applied in ModeStandard.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// StandardPatterns returns the credential shapes commonly seen in headers.
func StandardPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "authorization_scheme",
			Regex:       regexp.MustCompile(`(?i)\b(bearer|basic|digest|token)\s+[A-Za-z0-9._~+/=\-]{8,}`),
			Replacement: "$1 " + Placeholder,
		},
		{
			Name:        "jwt",
			Regex:       regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`),
			Replacement: Placeholder,
		},
		{
			Name:        "aws_key",
			Regex:       regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			Replacement: Placeholder,
		},
		{
			Name:        "key_value_secret",
			Regex:       regexp.MustCompile(`(?i)\b(api[_-]?key|access[_-]?token|secret|password|passwd|session(?:id)?)=([^;&\s]+)`),
			Replacement: "$1=" + Placeholder,
		},
		{
			Name:        "email",
			Regex:       regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			Replacement: Placeholder,
		},
	}
}

// sensitiveKeyParts mark an attribute key whose value is always masked
// outside ModeNone.
var sensitiveKeyParts = []string{
	"authorization", "cookie", "password", "secret", "token", "api_key", "api-key", "session",
}

// Redactor applies one Mode. It is safe for concurrent use.
type Redactor struct {
	mode     Mode
	patterns []Pattern
}

// New returns a redactor using the standard patterns.
func New(mode Mode) *Redactor {
	return &Redactor{mode: mode, patterns: StandardPatterns()}
}

// NewWithPatterns returns a redactor with custom ModeStandard patterns.
func NewWithPatterns(mode Mode, patterns []Pattern) *Redactor {
	return &Redactor{mode: mode, patterns: patterns}
}

// Mode returns the configured mode.
func (r *Redactor) Mode() Mode { return r.mode }

// RedactString masks s according to the mode.
func (r *Redactor) RedactString(s string) string {
	switch r.mode {
	case ModeNone:
		return s
	case ModeStrict:
		if s == "" {
			return s
		}
		return Placeholder
	}
	for _, p := range r.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// RedactAttributes returns attrs with sensitive values masked. Keys naming
// credentials are masked whole; other string values go through
// RedactString. The input slice is not modified.
func (r *Redactor) RedactAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	if r.mode == ModeNone || len(attrs) == 0 {
		return attrs
	}

	out := make([]attribute.KeyValue, len(attrs))
	for i, kv := range attrs {
		switch {
		case sensitiveKey(string(kv.Key)):
			out[i] = kv.Key.String(Placeholder)
		case kv.Value.Type() == attribute.STRING:
			out[i] = kv.Key.String(r.RedactString(kv.Value.AsString()))
		case kv.Value.Type() == attribute.STRINGSLICE:
			vals := kv.Value.AsStringSlice()
			for j := range vals {
				vals[j] = r.RedactString(vals[j])
			}
			out[i] = kv.Key.StringSlice(vals)
		default:
			out[i] = kv
		}
	}
	return out
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
