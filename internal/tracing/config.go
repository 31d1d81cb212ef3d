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
	"time"
)

// Exporter types accepted in ExporterConfig.Type.
const (
	ExporterOTLP     = "otlp"
	ExporterOTLPHTTP = "otlp-http"
	ExporterConsole  = "console"
	ExporterSQLite   = "sqlite"
	ExporterNone     = "none"
)

// ExporterTypes lists the valid exporter types.
var ExporterTypes = []string{ExporterOTLP, ExporterOTLPHTTP, ExporterConsole, ExporterSQLite, ExporterNone}

// DefaultTracerName is the instrumentation scope of inbound spans.
const DefaultTracerName = "otelhook.http"

// Config holds tracing configuration.
type Config struct {
	// Enabled controls whether spans are recorded at all.
	Enabled bool `yaml:"enabled"`

	// TracerName is the instrumentation scope for SERVER spans.
	TracerName string `yaml:"tracer_name"`

	// Sampling configures head sampling.
	Sampling SamplingConfig `yaml:"sampling"`

	// Propagation selects the wire formats for trace context.
	Propagation PropagationConfig `yaml:"propagation"`

	// Exporters are the span destinations. Each gets a batch processor.
	Exporters []ExporterConfig `yaml:"exporters"`

	// BatchSize is the maximum number of spans per export batch (default: 512).
	BatchSize int `yaml:"batch_size"`

	// BatchInterval is how often to flush spans (default: 5s).
	BatchInterval time.Duration `yaml:"batch_interval"`

	// SpanLimits bounds per-span attribute and event counts.
	SpanLimits SpanLimitsConfig `yaml:"span_limits"`

	// Redaction configures masking of captured header values.
	Redaction RedactionConfig `yaml:"redaction"`

	// Retention bounds how long the sqlite exporter keeps spans.
	Retention RetentionConfig `yaml:"retention"`
}

// ExporterConfig defines one span destination.
type ExporterConfig struct {
	// Type is one of ExporterTypes.
	Type string `yaml:"type"`

	// Endpoint is the collector address for otlp and otlp-http.
	Endpoint string `yaml:"endpoint"`

	// Headers are sent with every export, e.g. for authentication.
	Headers map[string]string `yaml:"headers"`

	// TLS configures secure connections.
	TLS TLSConfig `yaml:"tls"`

	// Timeout bounds a single export.
	Timeout time.Duration `yaml:"timeout"`

	// Gzip compresses OTLP payloads.
	Gzip bool `yaml:"gzip"`

	// Path is the database file for the sqlite exporter.
	Path string `yaml:"path"`

	// Pretty indents console output.
	Pretty bool `yaml:"pretty"`
}

// TLSConfig configures TLS for exporters.
type TLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	VerifyCertificate bool   `yaml:"verify_certificate"`
	CACertPath        string `yaml:"ca_cert_path"`
}

// SpanLimitsConfig overrides the SDK span limits. Zero keeps the SDK
// default.
type SpanLimitsConfig struct {
	AttributeCount int `yaml:"attribute_count"`
	EventCount     int `yaml:"event_count"`
}

// RedactionConfig controls sensitive data redaction.
type RedactionConfig struct {
	// Level is the redaction mode: "none", "standard", or "strict".
	Level string `yaml:"level"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		TracerName: DefaultTracerName,
		Sampling: SamplingConfig{
			Rate:               1.0,
			AlwaysSampleErrors: true,
		},
		Propagation:   DefaultPropagationConfig(),
		Exporters:     nil,
		BatchSize:     512,
		BatchInterval: 5 * time.Second,
		Redaction:     RedactionConfig{Level: "standard"},
		Retention: RetentionConfig{
			MaxAge:   DefaultRetentionMaxAge,
			Interval: DefaultRetentionInterval,
		},
	}
}
