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
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/otelhook/internal/telemetry/registry"
	"github.com/tombee/otelhook/internal/telemetry/request"
	"github.com/tombee/otelhook/internal/tracing/redact"
	"github.com/tombee/otelhook/internal/tracing/storage"
	"github.com/tombee/otelhook/pkg/errors"
)

func sample(s sdktrace.Sampler, parent context.Context, attrs ...attribute.KeyValue) sdktrace.SamplingDecision {
	return s.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parent,
		TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Name:          "GET /",
		Attributes:    attrs,
	}).Decision
}

func remoteParent(sampled bool) context.Context {
	cfg := trace.SpanContextConfig{
		TraceID: trace.TraceID{1},
		SpanID:  trace.SpanID{1},
		Remote:  true,
	}
	if sampled {
		cfg.TraceFlags = trace.FlagsSampled
	}
	return trace.ContextWithRemoteSpanContext(context.Background(), trace.NewSpanContext(cfg))
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name   string
		cfg    SamplingConfig
		parent context.Context
		attrs  []attribute.KeyValue
		want   sdktrace.SamplingDecision
	}{
		{name: "rate 1 samples roots", cfg: SamplingConfig{Rate: 1}, parent: context.Background(), want: sdktrace.RecordAndSample},
		{name: "rate 0 drops roots", cfg: SamplingConfig{Rate: 0}, parent: context.Background(), want: sdktrace.Drop},
		{name: "sampled parent wins over rate 0", cfg: SamplingConfig{Rate: 0}, parent: remoteParent(true), want: sdktrace.RecordAndSample},
		{name: "unsampled parent wins over rate 1", cfg: SamplingConfig{Rate: 1}, parent: remoteParent(false), want: sdktrace.Drop},
		{
			name:   "dropped roots recorded when keeping errors",
			cfg:    SamplingConfig{Rate: 0, AlwaysSampleErrors: true},
			parent: context.Background(),
			want:   sdktrace.RecordOnly,
		},
		{
			name:   "unsampled remote parent still dropped when keeping errors",
			cfg:    SamplingConfig{Rate: 0, AlwaysSampleErrors: true},
			parent: remoteParent(false),
			want:   sdktrace.Drop,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sample(NewSampler(tt.cfg), tt.parent, tt.attrs...))
		})
	}
}

func TestNewSampler_Description(t *testing.T) {
	assert.Contains(t, NewSampler(SamplingConfig{Rate: 0.5, AlwaysSampleErrors: true}).Description(), "ErrorAwareSampler")
	assert.NotContains(t, NewSampler(SamplingConfig{Rate: 1, AlwaysSampleErrors: true}).Description(), "ErrorAwareSampler")
}

func TestKeepErrors_ExportsFailedRequestsOnly(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	cfg := SamplingConfig{Rate: 0, AlwaysSampleErrors: true}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(NewSampler(cfg)),
		sdktrace.WithSpanProcessor(keepErrors(sdktrace.NewSimpleSpanProcessor(exp))),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	reg := registry.New(registry.WithTracer(tp.Tracer("test")))
	reg.OnRequestStart(1, request.Server{Method: "GET", Path: "/boom"})
	reg.OnRequestError(1, "boom")
	reg.OnRequestStart(2, request.Server{Method: "GET", Path: "/fine"})
	reg.OnRequestEnd(2)

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /boom", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.True(t, spans[0].SpanContext.IsSampled())
}

func TestKeepErrors_SampledSpansUnchanged(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(NewSampler(SamplingConfig{Rate: 1, AlwaysSampleErrors: true})),
		sdktrace.WithSpanProcessor(keepErrors(sdktrace.NewSimpleSpanProcessor(exp))),
	)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "ok")
	span.End()

	require.Len(t, exp.GetSpans(), 1)
}

func TestBuildPipeline_KeepsErrorsWhenSampling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sampling = SamplingConfig{Rate: 0.1, AlwaysSampleErrors: true}
	cfg.Exporters = []ExporterConfig{{Type: ExporterSQLite, Path: storage.MemoryPath}}

	p, err := BuildPipeline(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.Len(t, p.Processors, 1)
	assert.IsType(t, &errorKeeper{}, p.Processors[0])
}

func TestCreatePropagator(t *testing.T) {
	ctx := remoteParent(true)

	tests := []struct {
		name    string
		cfg     PropagationConfig
		present []string
		absent  []string
	}{
		{name: "default", cfg: DefaultPropagationConfig(), present: []string{"traceparent"}, absent: []string{"b3", "x-b3-traceid"}},
		{name: "nothing enabled falls back to w3c", cfg: PropagationConfig{}, present: []string{"traceparent"}},
		{name: "b3 single", cfg: PropagationConfig{B3SingleHeader: true}, present: []string{"b3"}, absent: []string{"traceparent"}},
		{name: "b3 multi plus w3c", cfg: PropagationConfig{TraceContext: true, B3MultipleHeader: true}, present: []string{"traceparent", "x-b3-traceid"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			carrier := propagation.MapCarrier{}
			CreatePropagator(tt.cfg).Inject(ctx, carrier)
			for _, k := range tt.present {
				assert.NotEmpty(t, carrier.Get(k), k)
			}
			for _, k := range tt.absent {
				assert.Empty(t, carrier.Get(k), k)
			}
		})
	}
}

func TestCreatePropagator_W3CWinsOnExtract(t *testing.T) {
	p := CreatePropagator(PropagationConfig{TraceContext: true, B3SingleHeader: true})
	carrier := propagation.MapCarrier{
		"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		"b3":          "80f198ee56343ba864fe8b2a57d3eff7-e457b5a2e4d86bd1-1",
	}
	sc := trace.SpanContextFromContext(p.Extract(context.Background(), carrier))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
}

func TestNewResource(t *testing.T) {
	res, err := NewResource(context.Background(), ResourceConfig{
		ServiceName:    "checkout",
		ServiceVersion: "1.2.3",
		Environment:    "staging",
		Attributes:     map[string]string{"team": "payments"},
	})
	require.NoError(t, err)

	attrs := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "checkout", attrs[semconv.ServiceNameKey])
	assert.Equal(t, "1.2.3", attrs[semconv.ServiceVersionKey])
	assert.Equal(t, "staging", attrs[semconv.DeploymentEnvironmentKey])
	assert.Equal(t, "payments", attrs["team"])
	assert.Len(t, attrs[semconv.ServiceInstanceIDKey], 36, "instance id is a uuid")
	assert.NotEmpty(t, attrs[semconv.TelemetrySDKLanguageKey], "default resource is merged")
}

func TestPrometheusHandler(t *testing.T) {
	prom, err := NewPrometheus()
	require.NoError(t, err)

	res, err := NewResource(context.Background(), ResourceConfig{ServiceName: "test"})
	require.NoError(t, err)
	mp := NewMeterProvider(res, prom.Reader)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	counter, err := mp.Meter("test").Int64Counter("demo.requests")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	srv := httptest.NewServer(prom.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "demo_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestBuildPipeline(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "spans.db")
	cfg := DefaultConfig()
	cfg.Exporters = []ExporterConfig{
		{Type: ExporterSQLite, Path: dbPath},
		{Type: ExporterSQLite, Path: dbPath},
		{Type: ExporterNone},
		{Type: "zipkin"},
		{Type: ExporterOTLP, Endpoint: "localhost:4317"},
	}

	p, err := BuildPipeline(context.Background(), cfg, redact.New(redact.ModeStandard), nil)
	require.NoError(t, err)
	assert.Len(t, p.Processors, 2, "sqlite and otlp; duplicate sqlite and unknown type skipped")
	require.NotNil(t, p.Store)
	require.NotNil(t, p.Retention)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p.Processors[0]))
	_, span := tp.Tracer("test").Start(context.Background(), "GET /stored")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	traces, err := p.Store.ListTraces(context.Background(), storage.TraceFilter{})
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, "GET /stored", traces[0].RootName)

	for _, proc := range p.Processors[1:] {
		_ = proc.Shutdown(context.Background())
	}
	assert.NoError(t, p.Close())
}

func TestCreateExporter_Errors(t *testing.T) {
	_, err := CreateExporter(context.Background(), ExporterConfig{Type: "zipkin"})
	var expErr *errors.ExporterError
	require.True(t, errors.As(err, &expErr))
	assert.Equal(t, "zipkin", expErr.Exporter)

	_, err = CreateExporter(context.Background(), ExporterConfig{
		Type: ExporterOTLPHTTP,
		TLS:  TLSConfig{Enabled: true, CACertPath: filepath.Join(t.TempDir(), "missing.pem")},
	})
	assert.True(t, errors.As(err, &expErr))

	exp, err := CreateExporter(context.Background(), ExporterConfig{Type: ExporterNone})
	assert.NoError(t, err)
	assert.Nil(t, exp)
}

func TestNewRedactor(t *testing.T) {
	r, err := NewRedactor(RedactionConfig{Level: "strict"})
	require.NoError(t, err)
	assert.Equal(t, redact.ModeStrict, r.Mode())

	_, err = NewRedactor(RedactionConfig{Level: "bogus"})
	var cfgErr *errors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestSpanLimits(t *testing.T) {
	limits := SpanLimits(SpanLimitsConfig{AttributeCount: 16})
	assert.Equal(t, 16, limits.AttributeCountLimit)
	assert.Equal(t, sdktrace.NewSpanLimits().EventCountLimit, limits.EventCountLimit)
}
