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

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// AttributeRedactor masks attribute values before they are persisted.
type AttributeRedactor interface {
	RedactAttributes(attrs []attribute.KeyValue) []attribute.KeyValue
}

// Exporter is an sdktrace.SpanExporter writing to a SQLiteStore. The store
// is not closed on Shutdown; its owner closes it.
type Exporter struct {
	store    *SQLiteStore
	redactor AttributeRedactor
	stopped  atomic.Bool
}

var _ sdktrace.SpanExporter = (*Exporter)(nil)

// NewExporter returns an exporter for store. redactor may be nil.
func NewExporter(store *SQLiteStore, redactor AttributeRedactor) *Exporter {
	return &Exporter{store: store, redactor: redactor}
}

// ExportSpans converts and stores a batch.
func (e *Exporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if e.stopped.Load() || len(spans) == 0 {
		return nil
	}
	batch := make([]*Span, 0, len(spans))
	for _, s := range spans {
		batch = append(batch, e.convert(s))
	}
	if err := e.store.StoreSpans(ctx, batch); err != nil {
		return fmt.Errorf("sqlite exporter: %w", err)
	}
	return nil
}

// Shutdown stops further exports.
func (e *Exporter) Shutdown(context.Context) error {
	e.stopped.Store(true)
	return nil
}

func (e *Exporter) convert(s sdktrace.ReadOnlySpan) *Span {
	sc := s.SpanContext()
	span := &Span{
		TraceID:       sc.TraceID().String(),
		SpanID:        sc.SpanID().String(),
		Name:          s.Name(),
		Kind:          s.SpanKind().String(),
		StartTime:     s.StartTime(),
		EndTime:       s.EndTime(),
		StatusCode:    strings.ToLower(s.Status().Code.String()),
		StatusMessage: s.Status().Description,
		Attributes:    e.attributes(s.Attributes()),
		Scope:         s.InstrumentationScope().Name,
	}
	if p := s.Parent(); p.IsValid() {
		span.ParentID = p.SpanID().String()
	}
	for _, ev := range s.Events() {
		span.Events = append(span.Events, Event{
			Name:       ev.Name,
			Time:       ev.Time,
			Attributes: e.attributes(ev.Attributes),
		})
	}
	return span
}

func (e *Exporter) attributes(attrs []attribute.KeyValue) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	if e.redactor != nil {
		attrs = e.redactor.RedactAttributes(attrs)
	}
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
