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

package registry

import (
	"strings"

	"github.com/tombee/otelhook/internal/telemetry/lifecycle"
)

// DefaultCorrelationHeader is the response header the trace id is written to
// unless configured otherwise.
const DefaultCorrelationHeader = "x-trace-id"

// Correlation is either a response header name or disabled.
type Correlation struct {
	header   string
	disabled bool
}

// CorrelationHeader emits the trace id under name. An empty name selects
// DefaultCorrelationHeader.
func CorrelationHeader(name string) Correlation {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultCorrelationHeader
	}
	return Correlation{header: name}
}

// CorrelationDisabled turns correlation headers off.
func CorrelationDisabled() Correlation {
	return Correlation{disabled: true}
}

// Enabled reports whether a header is emitted.
func (c Correlation) Enabled() bool {
	return !c.disabled
}

// HeaderName returns the header name, or "" when disabled.
func (c Correlation) HeaderName() string {
	if c.disabled {
		return ""
	}
	if c.header == "" {
		return DefaultCorrelationHeader
	}
	return c.header
}

// OnResponseStart returns the trace id of id's span as a one-element slice.
// It returns nil when correlation is disabled, the id is unknown or the span
// carries no valid trace id.
func (r *Registry) OnResponseStart(id lifecycle.RequestID) []string {
	if !r.correlation.Enabled() {
		return nil
	}
	rec, ok := r.lookup(id)
	if !ok {
		r.logUnknown("response_start", id)
		return nil
	}
	tid := rec.span.SpanContext().TraceID()
	if !tid.IsValid() {
		return nil
	}
	return []string{tid.String()}
}
