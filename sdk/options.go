package sdk

import (
	"fmt"
	"log/slog"
	"maps"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/otelhook/internal/telemetry/lifecycle"
	"github.com/tombee/otelhook/internal/telemetry/registry"
)

// Option configures an SDK instance.
type Option func(*SDK) error

// WithHost sets the server the SDK attaches to. Required.
func WithHost(host lifecycle.Host) Option {
	return func(s *SDK) error {
		if host == nil {
			return ErrNilHost
		}
		s.host = host
		return nil
	}
}

// WithServiceName sets service.name on the resource.
func WithServiceName(name string) Option {
	return func(s *SDK) error {
		s.resourceCfg.ServiceName = name
		return nil
	}
}

// WithServiceVersion sets service.version on the resource.
func WithServiceVersion(version string) Option {
	return func(s *SDK) error {
		s.resourceCfg.ServiceVersion = version
		return nil
	}
}

// WithEnvironment sets deployment.environment on the resource.
func WithEnvironment(env string) Option {
	return func(s *SDK) error {
		s.resourceCfg.Environment = env
		return nil
	}
}

// WithResourceAttributes adds string attributes to the resource. Repeated
// calls merge.
func WithResourceAttributes(attrs map[string]string) Option {
	return func(s *SDK) error {
		if s.resourceCfg.Attributes == nil {
			s.resourceCfg.Attributes = make(map[string]string, len(attrs))
		}
		maps.Copy(s.resourceCfg.Attributes, attrs)
		return nil
	}
}

// WithResource merges res over the built resource. Attributes in res win.
func WithResource(res *resource.Resource) Option {
	return func(s *SDK) error {
		s.resource = res
		return nil
	}
}

// WithTracerProvider adopts a caller-owned tracer provider. Sampler, span
// limits, exporters and processors are ignored when it is set. Shutdown
// flushes it if it has a ForceFlush method but never shuts it down.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *SDK) error {
		if tp == nil {
			return fmt.Errorf("tracer provider cannot be nil")
		}
		s.tracerProvider = tp
		return nil
	}
}

// WithSampler sets the sampler of the SDK-built tracer provider.
func WithSampler(sampler sdktrace.Sampler) Option {
	return func(s *SDK) error {
		s.sampler = sampler
		return nil
	}
}

// WithSpanLimits sets the span limits of the SDK-built tracer provider.
func WithSpanLimits(limits sdktrace.SpanLimits) Option {
	return func(s *SDK) error {
		s.spanLimits = &limits
		return nil
	}
}

// WithExporters adds exporters, each behind a batch span processor.
func WithExporters(exporters ...sdktrace.SpanExporter) Option {
	return func(s *SDK) error {
		s.exporters = append(s.exporters, exporters...)
		return nil
	}
}

// WithSpanProcessors adds span processors as given.
func WithSpanProcessors(processors ...sdktrace.SpanProcessor) Option {
	return func(s *SDK) error {
		s.processors = append(s.processors, processors...)
		return nil
	}
}

// WithMeterProvider adopts a caller-owned meter provider. Readers are
// ignored when it is set.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *SDK) error {
		if mp == nil {
			return fmt.Errorf("meter provider cannot be nil")
		}
		s.meterProvider = mp
		return nil
	}
}

// WithMetricReaders adds readers to the SDK-built meter provider.
func WithMetricReaders(readers ...sdkmetric.Reader) Option {
	return func(s *SDK) error {
		s.readers = append(s.readers, readers...)
		return nil
	}
}

// WithPropagator sets the propagator installed globally on Start
// (default: W3C trace context and baggage).
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(s *SDK) error {
		s.propagator = p
		return nil
	}
}

// WithTracerName sets the instrumentation scope of SERVER spans.
func WithTracerName(name string) Option {
	return func(s *SDK) error {
		if name == "" {
			return fmt.Errorf("tracer name cannot be empty")
		}
		s.tracerName = name
		return nil
	}
}

// WithCorrelation sets the correlation header behaviour.
func WithCorrelation(c registry.Correlation) Option {
	return func(s *SDK) error {
		s.correlation = c
		return nil
	}
}

// WithRequestHeaderAttributes lists request headers recorded on SERVER spans.
func WithRequestHeaderAttributes(names ...string) Option {
	return func(s *SDK) error {
		s.capture.RequestHeaders = append(s.capture.RequestHeaders, names...)
		return nil
	}
}

// WithResponseHeaderAttributes lists response headers recorded on SERVER
// spans.
func WithResponseHeaderAttributes(names ...string) Option {
	return func(s *SDK) error {
		s.capture.ResponseHeaders = append(s.capture.ResponseHeaders, names...)
		return nil
	}
}

// WithRedactor rewrites captured header values.
func WithRedactor(red registry.Redactor) Option {
	return func(s *SDK) error {
		s.redactor = red
		return nil
	}
}

// WithInstrumentations registers instrumentations enabled on Start, in
// order, and disabled on Shutdown in reverse.
func WithInstrumentations(insts ...Instrumentation) Option {
	return func(s *SDK) error {
		for _, inst := range insts {
			if inst == nil {
				return fmt.Errorf("instrumentation cannot be nil")
			}
		}
		s.instrumentations = append(s.instrumentations, insts...)
		return nil
	}
}

// WithAccessLog attaches a per-request access logger after the registry.
func WithAccessLog() Option {
	return func(s *SDK) error {
		s.accessLog = true
		return nil
	}
}

// WithLogger sets a custom structured logger.
// If not set, logs go to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *SDK) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}
