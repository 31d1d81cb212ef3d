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

// Package capture turns an allow-list of header names into span attributes
// keyed http.<direction>.header.<canonical>.
package capture

import (
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tombee/otelhook/internal/telemetry/carrier"
)

// Direction selects the attribute namespace.
type Direction string

const (
	Request  Direction = "request"
	Response Direction = "response"
)

// Canonical lower-cases name and replaces every '-' with '_'.
func Canonical(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

// Key returns the attribute key for a captured header.
func Key(dir Direction, name string) string {
	return "http." + string(dir) + ".header." + Canonical(name)
}

// Capture looks up each configured name in c and returns the values found,
// keyed per Key. Names are normalized as NewList does. It returns nil when
// names is empty. Absent headers produce no entry.
func Capture(dir Direction, c carrier.Carrier, names []string) map[string]string {
	if len(names) == 0 {
		return nil
	}
	attrs := NewList(dir, names).Attributes(c, nil)
	out := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsString()
	}
	return out
}

// List is a precompiled set of header names for one direction.
type List struct {
	dir    Direction
	fields []field
}

type field struct {
	name string
	key  attribute.Key
}

// NewList compiles names for dir. Duplicate names (after canonicalization)
// are kept once, at their first position.
func NewList(dir Direction, names []string) List {
	l := List{dir: dir}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := Key(dir, name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		l.fields = append(l.fields, field{name: name, key: attribute.Key(key)})
	}
	return l
}

// Empty reports whether the list captures nothing.
func (l List) Empty() bool { return len(l.fields) == 0 }

// Names returns the configured header names in order.
func (l List) Names() []string {
	names := make([]string, len(l.fields))
	for i, f := range l.fields {
		names[i] = f.name
	}
	return names
}

// Attributes returns the attributes for headers present in c, in configured
// order. transform, if non-nil, is applied to each value.
func (l List) Attributes(c carrier.Carrier, transform func(key, value string) string) []attribute.KeyValue {
	if len(l.fields) == 0 {
		return nil
	}
	if c == nil {
		c = carrier.Null{}
	}
	var attrs []attribute.KeyValue
	for _, f := range l.fields {
		v, ok := c.Get(f.name)
		if !ok {
			continue
		}
		if transform != nil {
			v = transform(string(f.key), v)
		}
		attrs = append(attrs, f.key.String(v))
	}
	return attrs
}
