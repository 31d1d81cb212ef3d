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

package config

import (
	"maps"
	"strings"

	"github.com/velmie/x/envx"

	"github.com/tombee/otelhook/internal/tracing"
	"github.com/tombee/otelhook/pkg/httpclient"
)

var env = envx.CreatePrototype().WithPrefix("OTELHOOK_")

// loadFromEnv overrides c with OTELHOOK_* variables, falling back to the
// standard OTEL_* names where one exists. Unset variables keep the current
// value.
func (c *Config) loadFromEnv() error {
	return envx.Supply(
		envx.Set(&c.Service, func() (ServiceConfig, error) { return serviceFromEnv(c.Service) }),
		envx.Set(&c.Server, func() (ServerConfig, error) { return serverFromEnv(c.Server) }),
		envx.Set(&c.Log, func() (LogConfig, error) { return logFromEnv(c.Log) }),
		envx.Set(&c.Tracing, func() (tracing.Config, error) { return tracingFromEnv(c.Tracing) }),
		envx.Set(&c.Metrics, func() (MetricsConfig, error) { return metricsFromEnv(c.Metrics) }),
		envx.Set(&c.HTTP, func() (HTTPConfig, error) { return httpFromEnv(c.HTTP) }),
		envx.Set(&c.Client, func() (httpclient.Config, error) { return clientFromEnv(c.Client) }),
		c.applySDKDisabled,
	)
}

func serviceFromEnv(d ServiceConfig) (ServiceConfig, error) {
	c := d

	name := envx.Coalesce("OTELHOOK_SERVICE_NAME", "OTEL_SERVICE_NAME").Default(d.Name)
	version := env.Get("SERVICE_VERSION").Default(d.Version)
	environment := env.Get("ENVIRONMENT").Default(d.Environment)
	attributes := envx.Coalesce("OTELHOOK_RESOURCE_ATTRIBUTES", "OTEL_RESOURCE_ATTRIBUTES")

	var extra map[string]string
	err := envx.Supply(
		envx.Set(&c.Name, name.String),
		envx.Set(&c.Version, version.String),
		envx.Set(&c.Environment, environment.String),
		envx.Set(&extra, envx.Default(map[string]string(nil), attributes, attributes.MapStringString)),
	)
	if len(extra) > 0 {
		c.Attributes = maps.Clone(d.Attributes)
		if c.Attributes == nil {
			c.Attributes = make(map[string]string, len(extra))
		}
		maps.Copy(c.Attributes, extra)
	}

	return c, err
}

func serverFromEnv(d ServerConfig) (ServerConfig, error) {
	c := d

	addr := env.Get("SERVER_ADDR").Default(d.Addr)
	timeout := env.Get("SERVER_SHUTDOWN_TIMEOUT")
	err := envx.Supply(
		envx.Set(&c.Addr, addr.String),
		envx.Set(&c.ShutdownTimeout, envx.Default(d.ShutdownTimeout, timeout, timeout.Duration)),
	)

	return c, err
}

func logFromEnv(d LogConfig) (LogConfig, error) {
	c := d

	level := envx.Coalesce("OTELHOOK_LOG_LEVEL", "LOG_LEVEL").Default(d.Level)
	format := envx.Get("LOG_FORMAT").Default(d.Format)
	source := envx.Get("LOG_SOURCE")
	err := envx.Supply(
		envx.Set(&c.Level, level.String),
		envx.Set(&c.Format, format.String),
		envx.Set(&c.AddSource, envx.Default(d.AddSource, source, source.Boolean)),
	)
	c.Level = strings.ToLower(c.Level)
	c.Format = strings.ToLower(c.Format)

	return c, err
}

func tracingFromEnv(d tracing.Config) (tracing.Config, error) {
	c := d

	enabled := env.Get("TRACING_ENABLED")
	rate := envx.Coalesce("OTELHOOK_SAMPLING_RATE", "OTEL_TRACES_SAMPLER_ARG")
	redaction := env.Get("REDACTION_LEVEL").Default(d.Redaction.Level)
	batchInterval := env.Get("BATCH_INTERVAL")

	var endpoint, protocol string
	err := envx.Supply(
		envx.Set(&c.Enabled, envx.Default(d.Enabled, enabled, enabled.Boolean)),
		envx.Set(&c.Sampling.Rate, envx.Default(d.Sampling.Rate, rate, rate.Float64)),
		envx.Set(&c.Redaction.Level, redaction.String),
		envx.Set(&c.BatchInterval, envx.Default(d.BatchInterval, batchInterval, batchInterval.Duration)),
		envx.Set(&endpoint, envx.Coalesce("OTELHOOK_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT").String),
		envx.Set(&protocol, envx.Coalesce("OTELHOOK_OTLP_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL").String),
	)
	if endpoint != "" {
		c.Exporters = withOTLPEndpoint(d.Exporters, endpoint, protocol)
	}

	return c, err
}

// withOTLPEndpoint points the first OTLP exporter at endpoint, adding one
// when none is configured. protocol follows OTEL_EXPORTER_OTLP_PROTOCOL:
// "grpc" (default) or "http/protobuf".
func withOTLPEndpoint(exporters []tracing.ExporterConfig, endpoint, protocol string) []tracing.ExporterConfig {
	typ := tracing.ExporterOTLP
	if strings.HasPrefix(strings.ToLower(protocol), "http") {
		typ = tracing.ExporterOTLPHTTP
	}

	out := make([]tracing.ExporterConfig, len(exporters))
	copy(out, exporters)
	for i := range out {
		if out[i].Type == tracing.ExporterOTLP || out[i].Type == tracing.ExporterOTLPHTTP {
			out[i].Type = typ
			out[i].Endpoint = endpoint
			return out
		}
	}
	return append(out, tracing.ExporterConfig{Type: typ, Endpoint: endpoint})
}

func metricsFromEnv(d MetricsConfig) (MetricsConfig, error) {
	c := d

	enabled := env.Get("METRICS_ENABLED")
	promEnabled := env.Get("PROMETHEUS_ENABLED")
	path := env.Get("PROMETHEUS_PATH").Default(d.Prometheus.Path)
	err := envx.Supply(
		envx.Set(&c.Enabled, envx.Default(d.Enabled, enabled, enabled.Boolean)),
		envx.Set(&c.Prometheus.Enabled, envx.Default(d.Prometheus.Enabled, promEnabled, promEnabled.Boolean)),
		envx.Set(&c.Prometheus.Path, path.String),
	)

	return c, err
}

func httpFromEnv(d HTTPConfig) (HTTPConfig, error) {
	c := d

	header := env.Get("CORRELATION_HEADER")
	reqHeaders := env.Get("REQUEST_HEADERS")
	respHeaders := env.Get("RESPONSE_HEADERS")
	err := envx.Supply(
		envx.Set(&c.RequestHeaders, envx.Default(d.RequestHeaders, reqHeaders, func() ([]string, error) { return reqHeaders.StringSlice() })),
		envx.Set(&c.ResponseHeaders, envx.Default(d.ResponseHeaders, respHeaders, func() ([]string, error) { return respHeaders.StringSlice() })),
	)
	if header.Exist && err == nil {
		c.CorrelationHeader, err = parseCorrelationHeader(header.Val)
	}
	c.RequestHeaders = trimAll(c.RequestHeaders)
	c.ResponseHeaders = trimAll(c.ResponseHeaders)

	return c, err
}

func clientFromEnv(d httpclient.Config) (httpclient.Config, error) {
	c := d

	timeout := env.Get("CLIENT_TIMEOUT")
	attempts := env.Get("CLIENT_RETRY_ATTEMPTS")
	userAgent := env.Get("CLIENT_USER_AGENT").Default(d.UserAgent)
	err := envx.Supply(
		envx.Set(&c.Timeout, envx.Default(d.Timeout, timeout, timeout.Duration)),
		envx.Set(&c.RetryAttempts, envx.Default(d.RetryAttempts, attempts, attempts.Int)),
		envx.Set(&c.UserAgent, userAgent.String),
	)

	return c, err
}

// applySDKDisabled honours OTEL_SDK_DISABLED, which turns off both signals.
func (c *Config) applySDKDisabled() error {
	disabled := envx.Get("OTEL_SDK_DISABLED")
	off, err := envx.Default(false, disabled, disabled.Boolean)()
	if err != nil {
		return err
	}
	if off {
		c.Tracing.Enabled = false
		c.Metrics.Enabled = false
	}
	return nil
}

func trimAll(names []string) []string {
	if names == nil {
		return nil
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
