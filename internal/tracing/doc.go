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

/*
Package tracing assembles the OpenTelemetry SDK pieces the telemetry core
runs on.

It does not create spans itself. It turns configuration into the things a
tracer and meter provider need:

  - a service resource with a per-process instance id
  - a parent-based sampler that can force-sample error spans
  - a composite propagator (W3C trace context, baggage, B3)
  - batch span processors for OTLP, console and local SQLite exporters
  - a Prometheus reader on a dedicated registry

# Quick Start

	cfg := tracing.DefaultConfig()
	cfg.Exporters = []tracing.ExporterConfig{{Type: "otlp", Endpoint: "localhost:4317"}}

	red, _ := tracing.NewRedactor(cfg.Redaction)
	pipeline, err := tracing.BuildPipeline(ctx, cfg, red, logger)
	if err != nil {
	    return err
	}
	defer pipeline.Close()

	opts := []sdktrace.TracerProviderOption{
	    sdktrace.WithSampler(tracing.NewSampler(cfg.Sampling)),
	}
	for _, p := range pipeline.Processors {
	    opts = append(opts, sdktrace.WithSpanProcessor(p))
	}

# Local storage

The sqlite exporter writes finished spans to a database file that the
`otelhookd traces` command reads. A RetentionManager prunes it on an
interval.
*/
package tracing
