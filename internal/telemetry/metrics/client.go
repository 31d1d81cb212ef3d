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

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ClientRecorder records outbound request durations.
type ClientRecorder struct {
	now            func() time.Time
	duration       metric.Float64Histogram
	durationLegacy metric.Float64Histogram
}

// NewClientRecorder creates the client instruments on mp. A nil mp records
// nothing.
func NewClientRecorder(mp metric.MeterProvider, opts ...Option) (*ClientRecorder, error) {
	o := buildOptions(opts)
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(o.scope)

	c := &ClientRecorder{now: o.now}

	var err error
	c.duration, err = meter.Float64Histogram(
		ClientRequestDuration,
		metric.WithDescription("Duration of HTTP client requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(DurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", ClientRequestDuration, err)
	}

	c.durationLegacy, err = meter.Float64Histogram(
		ClientDurationLegacy,
		metric.WithDescription("Measures the duration of outbound HTTP requests."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(msBuckets()...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", ClientDurationLegacy, err)
	}
	return c, nil
}

// Now returns the recorder's clock reading.
func (c *ClientRecorder) Now() time.Time {
	return c.now()
}

// Record adds one sample for a call that started at start. statusCode is
// ignored when zero; err adds error.type.
func (c *ClientRecorder) Record(ctx context.Context, start time.Time, method, host string, statusCode int, err error) {
	elapsed := c.now().Sub(start)

	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(method),
		semconv.ServerAddressKey.String(host),
	}
	if statusCode > 0 {
		attrs = append(attrs, semconv.HTTPResponseStatusCodeKey.Int(statusCode))
	}
	if err != nil {
		attrs = append(attrs, semconv.ErrorTypeKey.String(ErrorType(err)))
	}
	set := metric.WithAttributes(attrs...)

	c.duration.Record(ctx, elapsed.Seconds(), set)
	c.durationLegacy.Record(ctx, float64(elapsed)/float64(time.Millisecond), set)
}
