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

// Package metrics records HTTP server and client request metrics.
//
// The Aggregator subscribes to lifecycle events on its own and keeps its own
// start-time table, so request metrics are produced whether or not a tracer
// is configured.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tombee/otelhook/internal/telemetry/carrier"
	"github.com/tombee/otelhook/internal/telemetry/lifecycle"
	"github.com/tombee/otelhook/internal/telemetry/request"
)

// Metric names.
const (
	ServerRequestDuration       = "http.server.request.duration"
	ServerDurationLegacy        = "http.server.duration"
	ServerRequestCount          = "http.server.request.count"
	ServerActiveRequests        = "http.server.active_requests"
	ClientRequestDuration       = "http.client.request.duration"
	ClientDurationLegacy        = "http.client.duration"
	DefaultInstrumentationScope = "otelhook.http"
)

// DurationBuckets are the explicit histogram boundaries, in seconds.
var DurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10}

func msBuckets() []float64 {
	out := make([]float64, len(DurationBuckets))
	for i, b := range DurationBuckets {
		out[i] = b * 1000
	}
	return out
}

// Option configures an Aggregator or ClientRecorder.
type Option func(*options)

type options struct {
	scope string
	now   func() time.Time
}

// WithScope sets the instrumentation scope name of the meter.
func WithScope(name string) Option {
	return func(o *options) {
		if name != "" {
			o.scope = name
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{scope: DefaultInstrumentationScope, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type inflight struct {
	start  time.Time
	method string
	scheme string
	status int
}

// Aggregator records server request duration and count for every request
// that reaches a terminal event.
type Aggregator struct {
	now func() time.Time

	duration       metric.Float64Histogram
	durationLegacy metric.Float64Histogram
	requests       metric.Int64Counter
	active         metric.Int64UpDownCounter

	mu       sync.Mutex
	inflight map[lifecycle.RequestID]*inflight
}

var _ lifecycle.Callbacks = (*Aggregator)(nil)

// NewAggregator creates the server instruments on mp. A nil mp records
// nothing.
func NewAggregator(mp metric.MeterProvider, opts ...Option) (*Aggregator, error) {
	o := buildOptions(opts)
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(o.scope)

	a := &Aggregator{
		now:      o.now,
		inflight: make(map[lifecycle.RequestID]*inflight),
	}

	var err error
	a.duration, err = meter.Float64Histogram(
		ServerRequestDuration,
		metric.WithDescription("Duration of HTTP server requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(DurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", ServerRequestDuration, err)
	}

	a.durationLegacy, err = meter.Float64Histogram(
		ServerDurationLegacy,
		metric.WithDescription("Measures the duration of inbound HTTP requests."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(msBuckets()...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", ServerDurationLegacy, err)
	}

	a.requests, err = meter.Int64Counter(
		ServerRequestCount,
		metric.WithDescription("Total number of HTTP server requests."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", ServerRequestCount, err)
	}

	a.active, err = meter.Int64UpDownCounter(
		ServerActiveRequests,
		metric.WithDescription("Number of active HTTP server requests."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", ServerActiveRequests, err)
	}

	return a, nil
}

// OnRequestStart notes the start time of id.
func (a *Aggregator) OnRequestStart(id lifecycle.RequestID, req request.RequestLike) {
	info := request.Normalize(req)
	entry := &inflight{
		start:  a.now(),
		method: request.Method(req),
		scheme: info.Scheme,
	}

	a.mu.Lock()
	_, dup := a.inflight[id]
	a.inflight[id] = entry
	a.mu.Unlock()

	if !dup {
		a.active.Add(context.Background(), 1, metric.WithAttributes(
			semconv.HTTPRequestMethodKey.String(entry.method),
			semconv.URLSchemeKey.String(entry.scheme),
		))
	}
}

// OnResponseHeaders remembers the status code for the terminal sample.
func (a *Aggregator) OnResponseHeaders(id lifecycle.RequestID, statusCode int, _ int64, _ carrier.Carrier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if entry, ok := a.inflight[id]; ok {
		entry.status = statusCode
	}
}

// OnRequestEnd records the completed request.
func (a *Aggregator) OnRequestEnd(id lifecycle.RequestID) {
	a.finish(id, nil)
}

// OnRequestError records the failed request with an error.type attribute.
func (a *Aggregator) OnRequestError(id lifecycle.RequestID, err any) {
	a.finish(id, lifecycle.NormalizeError(err))
}

// Len returns the number of requests awaiting a terminal event.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight)
}

// Clear drops every pending request without recording it.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.inflight = make(map[lifecycle.RequestID]*inflight)
	a.mu.Unlock()
}

func (a *Aggregator) finish(id lifecycle.RequestID, err error) {
	a.mu.Lock()
	entry, ok := a.inflight[id]
	if ok {
		delete(a.inflight, id)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	elapsed := a.now().Sub(entry.start)
	ctx := context.Background()

	base := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(entry.method),
		semconv.URLSchemeKey.String(entry.scheme),
	}
	a.active.Add(ctx, -1, metric.WithAttributes(base...))

	attrs := base
	if entry.status > 0 {
		attrs = append(attrs, semconv.HTTPResponseStatusCodeKey.Int(entry.status))
	}
	if err != nil {
		attrs = append(attrs, semconv.ErrorTypeKey.String(ErrorType(err)))
	}
	set := metric.WithAttributes(attrs...)

	a.duration.Record(ctx, elapsed.Seconds(), set)
	a.durationLegacy.Record(ctx, float64(elapsed)/float64(time.Millisecond), set)
	a.requests.Add(ctx, 1, set)
}

// ErrorType returns a low-cardinality class for err.
func ErrorType(err error) string {
	var nonErr *lifecycle.NonError
	if errors.As(err, &nonErr) {
		return "_OTHER"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return fmt.Sprintf("%T", err)
}
