package sdk

import (
	"context"
	"fmt"
	"net/http"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/otelhook/internal/config"
	"github.com/tombee/otelhook/internal/telemetry/lifecycle"
	"github.com/tombee/otelhook/internal/tracing"
)

// FromConfig builds an SDK for host from cfg. The returned handler serves
// Prometheus metrics and is nil when the scrape endpoint is disabled.
// opts are applied after the configuration, so they win.
func FromConfig(ctx context.Context, cfg *config.Config, host lifecycle.Host, opts ...Option) (*SDK, http.Handler, error) {
	red, err := tracing.NewRedactor(cfg.Tracing.Redaction)
	if err != nil {
		return nil, nil, err
	}

	base := []Option{
		WithHost(host),
		WithServiceName(cfg.Service.Name),
		WithServiceVersion(cfg.Service.Version),
		WithEnvironment(cfg.Service.Environment),
		WithResourceAttributes(cfg.Service.Attributes),
		WithPropagator(tracing.CreatePropagator(cfg.Tracing.Propagation)),
		WithCorrelation(cfg.HTTP.CorrelationHeader.Correlation()),
		WithRequestHeaderAttributes(cfg.HTTP.RequestHeaders...),
		WithResponseHeaderAttributes(cfg.HTTP.ResponseHeaders...),
		WithRedactor(red),
	}
	if cfg.Tracing.TracerName != "" {
		base = append(base, WithTracerName(cfg.Tracing.TracerName))
	}
	if !cfg.Tracing.Enabled {
		base = append(base, WithTracerProvider(tracenoop.NewTracerProvider()))
	}
	if !cfg.Metrics.Enabled {
		base = append(base, WithMeterProvider(metricnoop.NewMeterProvider()))
	}

	s, err := New(append(base, opts...)...)
	if err != nil {
		return nil, nil, err
	}

	// The pipeline needs the final logger, so it is built after the options
	// are applied. A caller-supplied tracer provider replaces it entirely.
	if s.tracerProvider == nil {
		pipeline, err := tracing.BuildPipeline(ctx, cfg.Tracing, red, s.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("build span pipeline: %w", err)
		}
		s.pipeline = pipeline
		s.processors = append(pipeline.Processors, s.processors...)
		if s.sampler == nil {
			s.sampler = tracing.NewSampler(cfg.Tracing.Sampling)
		}
		if s.spanLimits == nil {
			limits := tracing.SpanLimits(cfg.Tracing.SpanLimits)
			s.spanLimits = &limits
		}
	}

	var handler http.Handler
	if s.meterProvider == nil && cfg.Metrics.Prometheus.Enabled {
		prom, err := tracing.NewPrometheus()
		if err != nil {
			_ = s.pipeline.Close()
			return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		s.readers = append(s.readers, prom.Reader)
		handler = prom.Handler()
	}

	return s, handler, nil
}
