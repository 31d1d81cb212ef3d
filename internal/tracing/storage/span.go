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

package storage

import "time"

// Status codes as stored. They match codes.Code.String() lower-cased.
const (
	StatusUnset = "unset"
	StatusOK    = "ok"
	StatusError = "error"
)

// Span is a finished span as persisted.
type Span struct {
	TraceID       string         `json:"trace_id"`
	SpanID        string         `json:"span_id"`
	ParentID      string         `json:"parent_id,omitempty"`
	Name          string         `json:"name"`
	Kind          string         `json:"kind"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	StatusCode    string         `json:"status_code"`
	StatusMessage string         `json:"status_message,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	Events        []Event        `json:"events,omitempty"`
	Scope         string         `json:"scope,omitempty"`
}

// Duration is the span's wall time.
func (s *Span) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Event is a span event such as a recorded exception.
type Event struct {
	Name       string         `json:"name"`
	Time       time.Time      `json:"time"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// TraceSummary aggregates the stored spans of one trace.
type TraceSummary struct {
	TraceID    string        `json:"trace_id"`
	RootName   string        `json:"root_name"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	SpanCount  int           `json:"span_count"`
	ErrorCount int           `json:"error_count"`
}

// TraceFilter narrows ListTraces.
type TraceFilter struct {
	// Since keeps traces whose first span started at or after it.
	Since time.Time

	// ErrorsOnly keeps traces with at least one error span.
	ErrorsOnly bool

	// Limit caps the number of traces. Zero means DefaultListLimit.
	Limit int
}

// DefaultListLimit applies when TraceFilter.Limit is zero.
const DefaultListLimit = 50
