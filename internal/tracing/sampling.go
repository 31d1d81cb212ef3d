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

package tracing

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// SamplingConfig controls head sampling of new root traces.
type SamplingConfig struct {
	// Rate is the fraction of root traces recorded, 0.0 to 1.0.
	Rate float64 `yaml:"rate"`

	// AlwaysSampleErrors exports spans that end with ERROR status even when
	// Rate dropped their trace. Those spans are recorded but unsampled until
	// they end, and only processors built by BuildPipeline export them.
	AlwaysSampleErrors bool `yaml:"always_sample_errors"`
}

// keepsErrors reports whether dropped spans must still be recorded.
func (c SamplingConfig) keepsErrors() bool {
	return c.AlwaysSampleErrors && c.Rate < 1.0
}

// NewSampler returns a parent-based sampler. Requests arriving with a
// sampled parent stay sampled so a trace is never cut in half; roots are
// sampled at cfg.Rate.
func NewSampler(cfg SamplingConfig) sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case cfg.Rate >= 1.0:
		root = sdktrace.AlwaysSample()
	case cfg.Rate <= 0.0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(cfg.Rate)
	}

	base := sdktrace.ParentBased(root)
	if cfg.keepsErrors() {
		return &errorAwareSampler{base: base}
	}
	return base
}

// errorAwareSampler turns local Drop decisions into RecordOnly so the span
// still learns its final status. A remote parent that was not sampled is
// respected.
type errorAwareSampler struct {
	base sdktrace.Sampler
}

func (s *errorAwareSampler) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	res := s.base.ShouldSample(p)
	if res.Decision != sdktrace.Drop || !recordableParent(p.ParentContext) {
		return res
	}
	res.Decision = sdktrace.RecordOnly
	return res
}

func (s *errorAwareSampler) Description() string {
	return "ErrorAwareSampler{base=" + s.base.Description() + "}"
}

// recordableParent is true for roots and for children of a local span that
// is itself being recorded.
func recordableParent(ctx context.Context) bool {
	psc := trace.SpanContextFromContext(ctx)
	if !psc.IsValid() {
		return true
	}
	if psc.IsRemote() {
		return false
	}
	return trace.SpanFromContext(ctx).IsRecording()
}

// errorKeeper forwards sampled spans to next unchanged, and unsampled spans
// only when they ended with ERROR status, marked as sampled so batch
// processors export them.
type errorKeeper struct {
	next sdktrace.SpanProcessor
}

var _ sdktrace.SpanProcessor = (*errorKeeper)(nil)

func keepErrors(next sdktrace.SpanProcessor) sdktrace.SpanProcessor {
	return &errorKeeper{next: next}
}

func (k *errorKeeper) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	k.next.OnStart(parent, s)
}

func (k *errorKeeper) OnEnd(s sdktrace.ReadOnlySpan) {
	sc := s.SpanContext()
	if sc.IsSampled() {
		k.next.OnEnd(s)
		return
	}
	if s.Status().Code != codes.Error {
		return
	}
	k.next.OnEnd(keptSpan{
		ReadOnlySpan: s,
		sc:           sc.WithTraceFlags(sc.TraceFlags().WithSampled(true)),
	})
}

func (k *errorKeeper) Shutdown(ctx context.Context) error { return k.next.Shutdown(ctx) }

func (k *errorKeeper) ForceFlush(ctx context.Context) error { return k.next.ForceFlush(ctx) }

// keptSpan reports a sampled span context for a span kept after the fact.
type keptSpan struct {
	sdktrace.ReadOnlySpan
	sc trace.SpanContext
}

func (s keptSpan) SpanContext() trace.SpanContext { return s.sc }
