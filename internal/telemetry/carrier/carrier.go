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

// Package carrier provides read-only views over the header shapes a host
// hands to the telemetry core.
//
// There are exactly three variants: Fetch (one value per key), Server
// (possibly several values per key, first one wins) and Null (no headers).
// Every lookup is case-insensitive. Unknown shapes passed to From degrade to
// Null instead of failing, so header-bearing input can never abort request
// handling.
package carrier

import (
	"net/http"
	"net/textproto"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/propagation"
)

// Carrier is a read-only header view.
type Carrier interface {
	// Keys returns the header names present in the carrier.
	Keys() []string

	// Get returns the effective value of the named header. Lookup is
	// case-insensitive; ok is false when the header is absent.
	Get(name string) (value string, ok bool)

	sealed()
}

// Fetch is a single-value-per-key carrier, such as the headers of an
// outbound request built by client code.
type Fetch map[string]string

// Server is a multi-valued carrier, such as http.Header. The first element
// of each slice is the effective value; an empty slice counts as absent.
type Server map[string][]string

// Null is the carrier for absent headers.
type Null struct{}

var (
	_ Carrier = Fetch(nil)
	_ Carrier = Server(nil)
	_ Carrier = Null{}
)

// Keys implements Carrier.
func (f Fetch) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get implements Carrier.
func (f Fetch) Get(name string) (string, bool) {
	if v, ok := f[name]; ok {
		return v, true
	}
	if v, ok := f[textproto.CanonicalMIMEHeaderKey(name)]; ok {
		return v, true
	}
	for k, v := range f {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func (Fetch) sealed() {}

// Keys implements Carrier. Keys whose value list is empty are omitted.
func (s Server) Keys() []string {
	keys := make([]string, 0, len(s))
	for k, v := range s {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Get implements Carrier.
func (s Server) Get(name string) (string, bool) {
	values, ok := s[name]
	if !ok {
		values, ok = s[textproto.CanonicalMIMEHeaderKey(name)]
	}
	if !ok {
		for k, v := range s {
			if strings.EqualFold(k, name) {
				values, ok = v, true
				break
			}
		}
	}
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func (Server) sealed() {}

// Keys implements Carrier.
func (Null) Keys() []string { return nil }

// Get implements Carrier.
func (Null) Get(string) (string, bool) { return "", false }

func (Null) sealed() {}

// From classifies a header-bearing value into one of the carrier variants.
// Values of any other shape yield Null.
func From(v any) Carrier {
	switch h := v.(type) {
	case nil:
		return Null{}
	case Carrier:
		return h
	case http.Header:
		return Server(h)
	case map[string][]string:
		return Server(h)
	case map[string]string:
		return Fetch(h)
	case map[string]any:
		return fromLoose(h)
	default:
		return Null{}
	}
}

// fromLoose folds a decoded map whose values are either a string or a list
// of strings. Entries of other types are dropped.
func fromLoose(m map[string]any) Carrier {
	s := make(Server, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			s[k] = []string{val}
		case []string:
			s[k] = val
		case []any:
			values := make([]string, 0, len(val))
			for _, item := range val {
				if str, ok := item.(string); ok {
					values = append(values, str)
				}
			}
			s[k] = values
		}
	}
	return s
}

// TextMap adapts c for propagator extraction. Set is a no-op so the
// underlying headers are never mutated.
func TextMap(c Carrier) propagation.TextMapCarrier {
	if c == nil {
		c = Null{}
	}
	return textMap{c: c}
}

type textMap struct {
	c Carrier
}

func (t textMap) Get(key string) string {
	v, _ := t.c.Get(key)
	return v
}

func (t textMap) Set(string, string) {}

func (t textMap) Keys() []string { return t.c.Keys() }
