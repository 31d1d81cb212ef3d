package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/otelhook/internal/log"
	"github.com/tombee/otelhook/internal/telemetry/accesslog"
	"github.com/tombee/otelhook/internal/telemetry/capture"
	"github.com/tombee/otelhook/internal/telemetry/lifecycle"
	"github.com/tombee/otelhook/internal/telemetry/metrics"
	"github.com/tombee/otelhook/internal/telemetry/outbound"
	"github.com/tombee/otelhook/internal/telemetry/registry"
	"github.com/tombee/otelhook/internal/tracing"
)

// Instrumentation is switched on once the providers are globally installed.
type Instrumentation interface {
	Name() string
	SetTracerProvider(tp trace.TracerProvider)
	SetMeterProvider(mp metric.MeterProvider)
	Enable() error
	Disable() error
}

var _ Instrumentation = (*outbound.Instrumentation)(nil)

type flusher interface {
	ForceFlush(ctx context.Context) error
}

type state int

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

// SDK is the main entry point for telemetry on a host server.
// Each SDK instance owns its request state; instances never share a registry.
type SDK struct {
	host   lifecycle.Host
	logger *slog.Logger
	log    *slog.Logger

	resourceCfg      tracing.ResourceConfig
	resource         *resource.Resource
	tracerProvider   trace.TracerProvider
	sampler          sdktrace.Sampler
	spanLimits       *sdktrace.SpanLimits
	exporters        []sdktrace.SpanExporter
	processors       []sdktrace.SpanProcessor
	meterProvider    metric.MeterProvider
	readers          []sdkmetric.Reader
	propagator       propagation.TextMapPropagator
	tracerName       string
	correlation      registry.Correlation
	capture          capture.Config
	redactor         registry.Redactor
	instrumentations []Instrumentation
	accessLog        bool

	// pipeline is set by FromConfig and closed after the tracer provider.
	pipeline *tracing.Pipeline

	mu         sync.Mutex
	state      state
	tp         trace.TracerProvider
	mp         metric.MeterProvider
	sdkTP      *sdktrace.TracerProvider
	sdkMP      *sdkmetric.MeterProvider
	registry   *registry.Registry
	aggregator *metrics.Aggregator
	refs       []lifecycle.InstrumentRef
	enabled    []Instrumentation
}

// New creates an SDK with the given options. Nothing is installed until
// Start.
//
// Example:
//
//	s, err := sdk.New(
//		sdk.WithHost(host),
//		sdk.WithServiceName("checkout"),
//		sdk.WithExporters(exporter),
//	)
func New(opts ...Option) (*SDK, error) {
	s := &SDK{
		logger:      slog.Default(),
		tracerName:  tracing.DefaultTracerName,
		correlation: registry.CorrelationHeader(registry.DefaultCorrelationHeader),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.host == nil {
		return nil, ErrNilHost
	}
	if err := s.capture.Validate(); err != nil {
		return nil, fmt.Errorf("header attributes: %w", err)
	}

	s.log = log.WithComponent(s.logger, "sdk")

	sanitized, dropped := s.capture.Sanitize()
	if len(dropped) > 0 {
		s.log.Warn("sensitive headers are never captured", slog.Any("headers", dropped))
	}
	s.capture = sanitized

	return s, nil
}

// Start installs the propagator and providers globally, attaches to the host
// and enables instrumentations, in that order. If any step fails, the steps
// already taken are undone and the SDK cannot be started again.
func (s *SDK) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrShutdown
	}

	defer func() {
		if err != nil {
			s.log.Error("start failed, rolling back", log.Error(err))
			if rbErr := s.shutdownLocked(ctx); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	res, err := tracing.NewResource(ctx, s.resourceCfg)
	if err != nil {
		return &StepError{Step: "resource", Cause: err}
	}
	if s.resource != nil {
		if res, err = resource.Merge(res, s.resource); err != nil {
			return &StepError{Step: "resource", Cause: err}
		}
	}

	prop := s.propagator
	if prop == nil {
		prop = tracing.W3CPropagator()
	}
	otel.SetTextMapPropagator(prop)

	s.tp = s.tracerProvider
	if s.tp == nil {
		s.sdkTP = s.buildTracerProvider(res)
		s.tp = s.sdkTP
	}
	otel.SetTracerProvider(s.tp)

	s.mp = s.meterProvider
	if s.mp == nil {
		s.sdkMP = tracing.NewMeterProvider(res, s.readers...)
		s.mp = s.sdkMP
	}
	otel.SetMeterProvider(s.mp)

	if s.pipeline != nil && s.pipeline.Retention != nil {
		s.pipeline.Retention.Start()
	}

	regOpts := []registry.Option{
		registry.WithTracer(s.tp.Tracer(s.tracerName)),
		registry.WithPropagator(prop),
		registry.WithCapture(s.capture),
		registry.WithCorrelation(s.correlation),
		registry.WithLogger(s.logger),
	}
	if s.redactor != nil {
		regOpts = append(regOpts, registry.WithRedactor(s.redactor))
	}
	s.registry = registry.New(regOpts...)

	s.aggregator, err = metrics.NewAggregator(s.mp)
	if err != nil {
		return &StepError{Step: "metrics", Cause: err}
	}

	insts := []lifecycle.Instrument{
		s.registry.Instrument("registry"),
		{Name: "metrics", Callbacks: s.aggregator},
	}
	if s.accessLog {
		insts = append(insts, lifecycle.Instrument{
			Name:      "accesslog",
			Callbacks: accesslog.New(s.logger, s.registry.SpanContext),
		})
	}
	for _, inst := range insts {
		ref, err := s.host.Attach(inst)
		if err != nil {
			return &StepError{Step: "attach " + inst.Name, Cause: err}
		}
		s.refs = append(s.refs, ref)
	}

	for _, inst := range s.instrumentations {
		inst.SetTracerProvider(s.tp)
		inst.SetMeterProvider(s.mp)
		if err := inst.Enable(); err != nil {
			return &StepError{Step: "enable " + inst.Name(), Cause: err}
		}
		s.enabled = append(s.enabled, inst)
	}

	s.state = stateRunning
	s.log.Info("telemetry started",
		slog.String("service", s.resourceCfg.ServiceName),
		slog.Int("instrumentations", len(s.enabled)),
	)
	return nil
}

func (s *SDK) buildTracerProvider(res *resource.Resource) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if s.sampler != nil {
		opts = append(opts, sdktrace.WithSampler(s.sampler))
	}
	if s.spanLimits != nil {
		opts = append(opts, sdktrace.WithRawSpanLimits(*s.spanLimits))
	}
	for _, exp := range s.exporters {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	for _, p := range s.processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	return sdktrace.NewTracerProvider(opts...)
}

// Shutdown disables instrumentations, abandons in-flight spans, detaches
// from the host, shuts down the meter provider and finally flushes and shuts
// down the tracer provider. Every step runs even if an earlier one fails and
// the errors are joined. Calling Shutdown again is a no-op.
func (s *SDK) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateNew:
		// Release the span store FromConfig opened for an SDK that never ran.
		err := s.pipeline.Close()
		s.pipeline = nil
		return errors.Join(ErrNotStarted, err)
	case stateStopped:
		return nil
	}
	return s.shutdownLocked(ctx)
}

func (s *SDK) shutdownLocked(ctx context.Context) error {
	s.state = stateStopped
	var errs []error

	for i := len(s.enabled) - 1; i >= 0; i-- {
		if err := s.enabled[i].Disable(); err != nil {
			errs = append(errs, &StepError{Step: "disable " + s.enabled[i].Name(), Cause: err})
		}
	}
	s.enabled = nil

	if s.registry != nil {
		s.registry.Clear()
	}
	if s.aggregator != nil {
		s.aggregator.Clear()
	}

	for i := len(s.refs) - 1; i >= 0; i-- {
		if err := s.host.Detach(s.refs[i]); err != nil {
			errs = append(errs, &StepError{Step: "detach", Cause: err})
		}
	}
	s.refs = nil

	if s.sdkMP != nil {
		if err := s.sdkMP.Shutdown(ctx); err != nil {
			errs = append(errs, &StepError{Step: "meter provider shutdown", Cause: err})
		}
	} else if f, ok := s.mp.(flusher); ok {
		if err := f.ForceFlush(ctx); err != nil {
			errs = append(errs, &StepError{Step: "meter provider flush", Cause: err})
		}
	}

	if s.sdkTP != nil {
		if err := s.sdkTP.ForceFlush(ctx); err != nil {
			errs = append(errs, &StepError{Step: "tracer provider flush", Cause: err})
		}
		if err := s.sdkTP.Shutdown(ctx); err != nil {
			errs = append(errs, &StepError{Step: "tracer provider shutdown", Cause: err})
		}
	} else if f, ok := s.tp.(flusher); ok {
		if err := f.ForceFlush(ctx); err != nil {
			errs = append(errs, &StepError{Step: "tracer provider flush", Cause: err})
		}
	}

	if err := s.pipeline.Close(); err != nil {
		errs = append(errs, &StepError{Step: "span store", Cause: err})
	}
	s.pipeline = nil

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.log.Info("telemetry stopped")
	return nil
}

// Registry returns the span registry, or nil before Start.
func (s *SDK) Registry() *registry.Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry
}

// TracerProvider returns the provider installed by Start, or nil before.
func (s *SDK) TracerProvider() trace.TracerProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tp
}

// MeterProvider returns the provider installed by Start, or nil before.
func (s *SDK) MeterProvider() metric.MeterProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mp
}

// Running reports whether Start succeeded and Shutdown has not been called.
func (s *SDK) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}
