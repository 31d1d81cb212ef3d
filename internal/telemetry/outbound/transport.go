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

// Package outbound traces HTTP calls made through an *http.Client.
//
// Every call becomes a CLIENT span parented to the span found in the
// request's context, and the trace context is injected into a clone of the
// outgoing request. The parent is read from the request context, never from
// a global, so concurrent calls from different inbound requests keep their
// own linkage.
package outbound

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/otelhook/internal/telemetry/httpattr"
	"github.com/tombee/otelhook/internal/telemetry/metrics"
)

// Transport is an http.RoundTripper that records a CLIENT span per call.
type Transport struct {
	base       http.RoundTripper
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	recorder   *metrics.ClientRecorder
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithTracer sets the tracer spans are started from.
func WithTracer(t trace.Tracer) TransportOption {
	return func(tr *Transport) {
		if t != nil {
			tr.tracer = t
		}
	}
}

// WithTransportPropagator sets the injecting propagator. Without it the
// global propagator is read per call.
func WithTransportPropagator(p propagation.TextMapPropagator) TransportOption {
	return func(tr *Transport) { tr.propagator = p }
}

// WithClientRecorder records call durations.
func WithClientRecorder(r *metrics.ClientRecorder) TransportOption {
	return func(tr *Transport) { tr.recorder = r }
}

// NewTransport wraps base. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, opts ...TransportOption) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:   base,
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Base returns the wrapped transport.
func (t *Transport) Base() http.RoundTripper {
	return t.base
}

// RoundTrip implements http.RoundTripper. Errors from the base transport are
// returned unchanged. The span is ended exactly once on every path,
// including a panicking base transport.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	fullURL := redactedURL(req.URL)
	host := ""
	if req.URL != nil {
		host = req.URL.Hostname()
	}

	ctx, span := t.tracer.Start(req.Context(), method+" "+fullURL,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			httpattr.Method.String(method),
			semconv.HTTPRequestMethodKey.String(method),
			httpattr.URL.String(fullURL),
			semconv.URLFullKey.String(fullURL),
			semconv.ServerAddressKey.String(host),
		),
	)
	defer span.End()

	var start time.Time
	if t.recorder != nil {
		start = t.recorder.Now()
	}

	out := req.Clone(ctx)
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	t.textMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.record(out, start, method, host, 0, err)
		return resp, err
	}

	status := resp.StatusCode
	span.SetAttributes(
		httpattr.StatusCode.Int(status),
		semconv.HTTPResponseStatusCodeKey.Int(status),
	)
	if status >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	t.record(out, start, method, host, status, nil)
	return resp, nil
}

func (t *Transport) textMapPropagator() propagation.TextMapPropagator {
	if t.propagator != nil {
		return t.propagator
	}
	return otel.GetTextMapPropagator()
}

func (t *Transport) record(req *http.Request, start time.Time, method, host string, status int, err error) {
	if t.recorder == nil {
		return
	}
	t.recorder.Record(req.Context(), start, method, host, status, err)
}

// redactedURL drops userinfo so credentials never reach span attributes.
func redactedURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if u.User == nil {
		return u.String()
	}
	safe := *u
	safe.User = nil
	return safe.String()
}
