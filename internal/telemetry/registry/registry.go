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

// Package registry owns the SERVER span of every in-flight request.
//
// A Registry is a lifecycle.Callbacks subscriber. Each RequestID moves
// absent -> active on OnRequestStart and back to absent on whichever of
// OnRequestEnd or OnRequestError arrives first. Events for unknown ids are
// ignored. The table is guarded by a mutex because net/http serves requests
// on many goroutines; span calls are made outside the lock.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/tombee/otelhook/internal/log"
	"github.com/tombee/otelhook/internal/telemetry/capture"
	"github.com/tombee/otelhook/internal/telemetry/carrier"
	"github.com/tombee/otelhook/internal/telemetry/httpattr"
	"github.com/tombee/otelhook/internal/telemetry/lifecycle"
	"github.com/tombee/otelhook/internal/telemetry/request"
)

// Redactor rewrites captured header values before they reach a span.
type Redactor interface {
	RedactString(s string) string
}

type record struct {
	span trace.Span
	ctx  context.Context
	info request.URLInfo
}

// Registry maps request ids to their open spans.
type Registry struct {
	tracer      trace.Tracer
	propagator  propagation.TextMapPropagator
	reqHeaders  capture.List
	respHeaders capture.List
	correlation Correlation
	redactor    Redactor
	logger      *slog.Logger
	unknown     rate.Sometimes

	mu    sync.Mutex
	spans map[lifecycle.RequestID]*record
}

// Option configures a Registry.
type Option func(*Registry)

// WithTracer sets the tracer SERVER spans are started from.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithPropagator sets the propagator used to extract inbound trace context.
// Without it the global propagator is read at extraction time.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(r *Registry) { r.propagator = p }
}

// WithCapture sets the request and response headers recorded on spans.
func WithCapture(cfg capture.Config) Option {
	return func(r *Registry) { r.reqHeaders, r.respHeaders = cfg.Lists() }
}

// WithCorrelation sets the correlation header behaviour.
func WithCorrelation(c Correlation) Option {
	return func(r *Registry) { r.correlation = c }
}

// WithRedactor applies red to every captured header value.
func WithRedactor(red Redactor) Option {
	return func(r *Registry) { r.redactor = red }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New returns an empty registry. Without WithTracer spans are no-ops, which
// still lets correlation and context threading work off extracted context.
func New(opts ...Option) *Registry {
	r := &Registry{
		tracer:      noop.NewTracerProvider().Tracer(""),
		correlation: CorrelationHeader(DefaultCorrelationHeader),
		unknown:     rate.Sometimes{First: 5, Interval: 30 * time.Second},
		spans:       make(map[lifecycle.RequestID]*record),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.WithComponent(log.OrDefault(r.logger), "registry")
	return r
}

var _ lifecycle.Callbacks = (*Registry)(nil)

func (r *Registry) textMapPropagator() propagation.TextMapPropagator {
	if r.propagator != nil {
		return r.propagator
	}
	return otel.GetTextMapPropagator()
}

// OnRequestStart opens the SERVER span for id. A duplicate id replaces the
// previous record; the displaced span is abandoned without being ended.
func (r *Registry) OnRequestStart(id lifecycle.RequestID, req request.RequestLike) {
	headers := request.Headers(req)
	parent := r.textMapPropagator().Extract(context.Background(), carrier.TextMap(headers))
	info := request.Normalize(req)
	method := request.Method(req)

	attrs := make([]attribute.KeyValue, 0, 8)
	attrs = append(attrs,
		httpattr.Method.String(method),
		httpattr.URL.String(info.FullURL),
		httpattr.Target.String(info.Target),
		httpattr.Scheme.String(info.Scheme),
		httpattr.Host.String(info.Host),
	)
	if info.UserAgent != "" {
		attrs = append(attrs, httpattr.UserAgent.String(info.UserAgent))
	}
	if info.HasContentLength {
		attrs = append(attrs, httpattr.RequestContentLength.Int64(info.ContentLength))
	}
	attrs = append(attrs, r.reqHeaders.Attributes(headers, r.redact)...)

	ctx, span := r.tracer.Start(parent, method+" "+info.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)

	r.mu.Lock()
	_, dup := r.spans[id]
	r.spans[id] = &record{span: span, ctx: ctx, info: info}
	r.mu.Unlock()

	if dup {
		r.logger.Debug("duplicate request id, previous span abandoned", slog.Uint64(log.RequestIDKey, uint64(id)))
	}
}

// OnResponseHeaders records the response status, length and captured headers.
// Later calls overwrite earlier values.
func (r *Registry) OnResponseHeaders(id lifecycle.RequestID, statusCode int, contentLength int64, headers carrier.Carrier) {
	rec, ok := r.lookup(id)
	if !ok {
		r.logUnknown("response_headers", id)
		return
	}

	attrs := []attribute.KeyValue{httpattr.StatusCode.Int(statusCode)}
	if contentLength > 0 {
		attrs = append(attrs, httpattr.ResponseContentLength.Int64(contentLength))
	}
	attrs = append(attrs, r.respHeaders.Attributes(headers, r.redact)...)
	rec.span.SetAttributes(attrs...)
}

// OnRequestEnd marks the span OK, ends it and forgets id.
func (r *Registry) OnRequestEnd(id lifecycle.RequestID) {
	rec, ok := r.take(id)
	if !ok {
		r.logUnknown("end", id)
		return
	}
	rec.span.SetStatus(codes.Ok, "")
	rec.span.End()
}

// OnRequestError records err on the span, marks it ERROR, ends it and
// forgets id. Non-error values are wrapped by lifecycle.NormalizeError.
func (r *Registry) OnRequestError(id lifecycle.RequestID, err any) {
	rec, ok := r.take(id)
	if !ok {
		r.logUnknown("error", id)
		return
	}
	e := lifecycle.NormalizeError(err)
	rec.span.RecordError(e)
	rec.span.SetStatus(codes.Error, e.Error())
	rec.span.End()
}

// ContextFor returns parent carrying id's span and inbound baggage, so work
// done while handling the request is parented to it. Unknown ids return
// parent unchanged.
func (r *Registry) ContextFor(parent context.Context, id lifecycle.RequestID) context.Context {
	rec, ok := r.lookup(id)
	if !ok {
		return parent
	}
	ctx := trace.ContextWithSpan(parent, rec.span)
	if b := baggage.FromContext(rec.ctx); b.Len() > 0 {
		ctx = baggage.ContextWithBaggage(ctx, b)
	}
	return ctx
}

// SpanContext returns the span context recorded for id.
func (r *Registry) SpanContext(id lifecycle.RequestID) (trace.SpanContext, bool) {
	rec, ok := r.lookup(id)
	if !ok {
		return trace.SpanContext{}, false
	}
	return rec.span.SpanContext(), true
}

// Len returns the number of in-flight requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spans)
}

// Clear forgets every in-flight request without ending its span, so no
// false completion time is recorded. It returns how many were abandoned.
func (r *Registry) Clear() int {
	r.mu.Lock()
	n := len(r.spans)
	r.spans = make(map[lifecycle.RequestID]*record)
	r.mu.Unlock()

	if n > 0 {
		r.logger.Debug("abandoned in-flight spans", slog.Int("count", n))
	}
	return n
}

// Instrument describes the registry for attaching to a host.
func (r *Registry) Instrument(name string) lifecycle.Instrument {
	return lifecycle.Instrument{
		Name:              name,
		Callbacks:         r,
		CorrelationHeader: r.correlation.HeaderName(),
		OnResponseStart:   r.OnResponseStart,
		Context:           r.ContextFor,
	}
}

func (r *Registry) lookup(id lifecycle.RequestID) (*record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.spans[id]
	return rec, ok
}

// take removes id under the lock so only one terminal event can claim it.
func (r *Registry) take(id lifecycle.RequestID) (*record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.spans[id]
	if ok {
		delete(r.spans, id)
	}
	return rec, ok
}

func (r *Registry) redact(_, value string) string {
	if r.redactor == nil {
		return value
	}
	return r.redactor.RedactString(value)
}

func (r *Registry) logUnknown(event string, id lifecycle.RequestID) {
	r.unknown.Do(func() {
		log.Trace(r.logger, "event for unknown request id",
			slog.String(log.EventKey, event),
			slog.Uint64(log.RequestIDKey, uint64(id)),
		)
	})
}
