package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/otelhook/internal/host/httphost"
	"github.com/tombee/otelhook/internal/telemetry/capture"
	"github.com/tombee/otelhook/internal/telemetry/lifecycle"
	"github.com/tombee/otelhook/internal/telemetry/metrics"
	"github.com/tombee/otelhook/internal/telemetry/registry"
	"github.com/tombee/otelhook/internal/telemetry/request"
)

// events is a shared, ordered log of what happened during Start/Shutdown.
type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

func (e *events) index(t *testing.T, s string) int {
	t.Helper()
	for i, v := range e.list() {
		if v == s {
			return i
		}
	}
	t.Fatalf("event %q not recorded in %v", s, e.list())
	return -1
}

// recordingHost wraps httphost.Host and logs attach/detach.
type recordingHost struct {
	*httphost.Host
	ev *events
}

func (h *recordingHost) Attach(inst lifecycle.Instrument) (lifecycle.InstrumentRef, error) {
	h.ev.add("attach:" + inst.Name)
	return h.Host.Attach(inst)
}

func (h *recordingHost) Detach(ref lifecycle.InstrumentRef) error {
	h.ev.add("detach")
	return h.Host.Detach(ref)
}

// fakeInstrumentation records the provider it was handed and whether it was
// the global one at that point.
type fakeInstrumentation struct {
	name      string
	ev        *events
	enableErr error

	tp         trace.TracerProvider
	sawGlobal  bool
	enabled    bool
	disableCnt int
}

func (f *fakeInstrumentation) Name() string { return f.name }

func (f *fakeInstrumentation) SetTracerProvider(tp trace.TracerProvider) {
	f.tp = tp
	f.sawGlobal = otel.GetTracerProvider() == tp
}

func (f *fakeInstrumentation) SetMeterProvider(metric.MeterProvider) {}

func (f *fakeInstrumentation) Enable() error {
	f.ev.add("enable:" + f.name)
	if f.enableErr != nil {
		return f.enableErr
	}
	f.enabled = true
	return nil
}

func (f *fakeInstrumentation) Disable() error {
	f.ev.add("disable:" + f.name)
	f.enabled = false
	f.disableCnt++
	return nil
}

// recordingProcessor logs when the tracer provider shuts it down.
type recordingProcessor struct {
	sdktrace.SpanProcessor
	ev *events
}

func (p *recordingProcessor) Shutdown(ctx context.Context) error {
	p.ev.add("tracer shutdown")
	return p.SpanProcessor.Shutdown(ctx)
}

func newTestHost() *recordingHost {
	return &recordingHost{Host: httphost.New(nil), ev: &events{}}
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, ErrNilHost)

	_, err = New(WithHost(nil))
	assert.ErrorIs(t, err, ErrNilHost)

	_, err = New(WithHost(newTestHost()), WithRequestHeaderAttributes("bad header"))
	assert.ErrorIs(t, err, capture.ErrInvalidHeaderName)

	_, err = New(WithHost(newTestHost()), WithTracerName(""))
	assert.Error(t, err)
}

func TestNew_DropsSensitiveHeaders(t *testing.T) {
	s, err := New(WithHost(newTestHost()), WithRequestHeaderAttributes("Authorization", "content-type"))
	require.NoError(t, err)
	assert.Equal(t, []string{"content-type"}, s.capture.RequestHeaders)
}

func TestStartShutdown_States(t *testing.T) {
	s, err := New(WithHost(newTestHost()), WithTracerProvider(tracenoop.NewTracerProvider()))
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, s.Shutdown(ctx), ErrNotStarted)

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.Running())
	assert.ErrorIs(t, s.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, s.Shutdown(ctx))
	assert.False(t, s.Running())
	assert.NoError(t, s.Shutdown(ctx), "second shutdown is a no-op")
	assert.ErrorIs(t, s.Start(ctx), ErrShutdown)
}

func TestStart_Ordering(t *testing.T) {
	host := newTestHost()
	ev := host.ev
	exporter := tracetest.NewInMemoryExporter()
	inst1 := &fakeInstrumentation{name: "first", ev: ev}
	inst2 := &fakeInstrumentation{name: "second", ev: ev}

	s, err := New(
		WithHost(host),
		WithSpanProcessors(&recordingProcessor{SpanProcessor: sdktrace.NewSimpleSpanProcessor(exporter), ev: ev}),
		WithInstrumentations(inst1, inst2),
	)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	// Instrumentations only see the provider once it is global.
	assert.True(t, inst1.sawGlobal)
	assert.Same(t, s.TracerProvider(), inst1.tp)
	assert.Less(t, ev.index(t, "attach:registry"), ev.index(t, "enable:first"))
	assert.Less(t, ev.index(t, "attach:metrics"), ev.index(t, "enable:first"))
	assert.Less(t, ev.index(t, "enable:first"), ev.index(t, "enable:second"))
	assert.Equal(t, 2, host.Attached())

	require.NoError(t, s.Shutdown(ctx))

	assert.Less(t, ev.index(t, "disable:second"), ev.index(t, "disable:first"))
	assert.Less(t, ev.index(t, "disable:first"), ev.index(t, "detach"))
	assert.Less(t, ev.index(t, "detach"), ev.index(t, "tracer shutdown"))
	assert.Zero(t, host.Attached())
	assert.False(t, inst1.enabled)
}

func TestStart_RollsBackOnFailure(t *testing.T) {
	host := newTestHost()
	boom := errors.New("boom")
	ok := &fakeInstrumentation{name: "ok", ev: host.ev}
	bad := &fakeInstrumentation{name: "bad", ev: host.ev, enableErr: boom}

	s, err := New(WithHost(host), WithInstrumentations(ok, bad))
	require.NoError(t, err)

	err = s.Start(context.Background())
	assert.ErrorIs(t, err, boom)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "enable bad", stepErr.Step)

	assert.Equal(t, 1, ok.disableCnt, "enabled instrumentations are disabled again")
	assert.Zero(t, bad.disableCnt)
	assert.Zero(t, host.Attached())
	assert.False(t, s.Running())
}

func TestEndToEnd_ServerSpanAndMetrics(t *testing.T) {
	host := newTestHost()
	exporter := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	s, err := New(
		WithHost(host),
		WithServiceName("checkout"),
		WithSpanProcessors(sdktrace.NewSimpleSpanProcessor(exporter)),
		WithMetricReaders(reader),
		WithRequestHeaderAttributes("content-type"),
	)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Shutdown(ctx) })

	handler := host.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "POST /orders", span.Name)
	assert.Equal(t, trace.SpanKindServer, span.SpanKind)

	attrs := make(map[string]any)
	for _, kv := range span.Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, int64(404), attrs["http.status_code"])
	assert.Equal(t, "application/json", attrs["http.request.header.content_type"])

	value, ok := span.Resource.Set().Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "checkout", value.AsString())

	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), w.Header().Get(registry.DefaultCorrelationHeader))
	assert.Equal(t, span.SpanContext.TraceID().String(), w.Header().Get(registry.DefaultCorrelationHeader))

	got := collect(t, reader)
	count := got[metrics.ServerRequestCount].Data.(metricdata.Sum[int64])
	require.Len(t, count.DataPoints, 1)
	assert.Equal(t, int64(1), count.DataPoints[0].Value)
}

func TestMetricsWithoutTracing(t *testing.T) {
	host := newTestHost()
	reader := sdkmetric.NewManualReader()

	s, err := New(
		WithHost(host),
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMetricReaders(reader),
	)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Shutdown(ctx) })

	handler := host.Middleware(http.NotFoundHandler())
	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}

	got := collect(t, reader)
	hist := got[metrics.ServerRequestDuration].Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(3), hist.DataPoints[0].Count)

	count := got[metrics.ServerRequestCount].Data.(metricdata.Sum[int64])
	require.Len(t, count.DataPoints, 1)
	assert.Equal(t, int64(3), count.DataPoints[0].Value)
}

func TestShutdown_AbandonsInFlightSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	s, err := New(
		WithHost(newTestHost()),
		WithSpanProcessors(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	reg := s.Registry()
	reg.OnRequestStart(1, request.Server{Method: "GET", Path: "/slow"})
	require.Equal(t, 1, reg.Len())

	require.NoError(t, s.Shutdown(ctx))
	assert.Zero(t, reg.Len())
	assert.Empty(t, exporter.GetSpans(), "in-flight spans are not ended")

	// Late events after shutdown are ignored.
	reg.OnRequestEnd(1)
	assert.Empty(t, exporter.GetSpans())
}

func TestWithCallerTracerProvider_IsNotShutDown(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	s, err := New(WithHost(newTestHost()), WithTracerProvider(tp))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Shutdown(ctx))

	// The provider still records after the SDK is gone.
	_, span := tp.Tracer("test").Start(ctx, "after")
	span.End()
	assert.Len(t, exporter.GetSpans(), 1)
}
