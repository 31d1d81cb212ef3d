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

// Package config loads otelhook configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
	"gopkg.in/yaml.v3"

	"github.com/tombee/otelhook/internal/log"
	"github.com/tombee/otelhook/internal/telemetry/capture"
	"github.com/tombee/otelhook/internal/tracing"
	"github.com/tombee/otelhook/internal/tracing/redact"
	otelerrors "github.com/tombee/otelhook/pkg/errors"
	"github.com/tombee/otelhook/pkg/httpclient"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config represents the complete otelhook configuration.
type Config struct {
	Service ServiceConfig  `yaml:"service"`
	Server  ServerConfig   `yaml:"server"`
	Log     LogConfig      `yaml:"log"`
	Tracing tracing.Config `yaml:"tracing"`
	Metrics MetricsConfig  `yaml:"metrics"`
	HTTP    HTTPConfig     `yaml:"http"`

	// Client configures the outbound client behind the demo /proxy route.
	Client httpclient.Config `yaml:"client"`
}

// ServiceConfig identifies the service in resource attributes.
type ServiceConfig struct {
	Name        string            `yaml:"name"`
	Version     string            `yaml:"version"`
	Environment string            `yaml:"environment"`
	Attributes  map[string]string `yaml:"attributes"`
}

// ServerConfig configures the demo HTTP server.
type ServerConfig struct {
	// Addr is the listen address (default: 127.0.0.1:8080).
	Addr string `yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown, including the final span
	// flush (default: 10s).
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures HTTP server metrics.
type MetricsConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// PrometheusConfig configures the scrape endpoint.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HTTPConfig configures what inbound and outbound spans capture.
type HTTPConfig struct {
	// CorrelationHeader is the response header carrying the trace id, or
	// false to disable it.
	CorrelationHeader CorrelationHeader `yaml:"correlation_header"`

	capture.Config `yaml:",inline"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: "otelhook",
		},
		Server: ServerConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: tracing.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Prometheus: PrometheusConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
		HTTP: HTTPConfig{
			Config: capture.Config{
				RequestHeaders:  []string{"content-type", "user-agent"},
				ResponseHeaders: []string{"content-type"},
			},
		},
		Client: httpclient.DefaultConfig(),
	}
}

// Load loads configuration from environment variables and optionally from a YAML file.
// Environment variables take precedence over file-based configuration.
// If configPath is empty, only environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &otelerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	// Apply defaults to any zero values (handles minimal configs)
	cfg.applyDefaults()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, &otelerrors.ConfigError{
			Key:    "environment",
			Reason: "failed to read environment overrides",
			Cause:  err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &otelerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values left by a partial file.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Service.Name == "" {
		c.Service.Name = defaults.Service.Name
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	t := &c.Tracing
	if t.TracerName == "" {
		t.TracerName = defaults.Tracing.TracerName
	}
	if t.BatchSize == 0 {
		t.BatchSize = defaults.Tracing.BatchSize
	}
	if t.BatchInterval == 0 {
		t.BatchInterval = defaults.Tracing.BatchInterval
	}
	if t.Redaction.Level == "" {
		t.Redaction.Level = defaults.Tracing.Redaction.Level
	}
	if t.Retention.MaxAge == 0 {
		t.Retention.MaxAge = defaults.Tracing.Retention.MaxAge
	}
	if t.Retention.Interval == 0 {
		t.Retention.Interval = defaults.Tracing.Retention.Interval
	}
	for i := range t.Exporters {
		if t.Exporters[i].Type == tracing.ExporterSQLite && t.Exporters[i].Path == "" {
			t.Exporters[i].Path = DefaultTracesPath()
		}
	}

	if c.Metrics.Prometheus.Path == "" {
		c.Metrics.Prometheus.Path = defaults.Metrics.Prometheus.Path
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	// Expand home directory if present
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Service.Name) == "" {
		errs = append(errs, "service.name must not be empty")
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr must not be empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}

	if !log.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	t := c.Tracing
	if t.Sampling.Rate < 0 || t.Sampling.Rate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sampling.rate must be between 0 and 1, got %v", t.Sampling.Rate))
	}
	if t.BatchSize < 0 {
		errs = append(errs, fmt.Sprintf("tracing.batch_size must not be negative, got %d", t.BatchSize))
	}
	if _, err := redact.ParseMode(t.Redaction.Level); err != nil {
		errs = append(errs, fmt.Sprintf("tracing.redaction.level: %v", err))
	}
	sqliteCount := 0
	for i, exp := range t.Exporters {
		if !slices.Contains(tracing.ExporterTypes, exp.Type) {
			errs = append(errs, fmt.Sprintf("tracing.exporters[%d].type must be one of %v, got %q", i, tracing.ExporterTypes, exp.Type))
			continue
		}
		if exp.Type == tracing.ExporterSQLite {
			sqliteCount++
		}
	}
	if sqliteCount > 1 {
		errs = append(errs, fmt.Sprintf("tracing.exporters may contain at most one sqlite exporter, got %d", sqliteCount))
	}
	if t.Retention.MaxAge < 0 || t.Retention.Interval < 0 {
		errs = append(errs, "tracing.retention durations must not be negative")
	}

	if c.Metrics.Prometheus.Enabled && !strings.HasPrefix(c.Metrics.Prometheus.Path, "/") {
		errs = append(errs, fmt.Sprintf("metrics.prometheus.path must start with /, got %q", c.Metrics.Prometheus.Path))
	}

	if name := c.HTTP.CorrelationHeader.Name; !c.HTTP.CorrelationHeader.Disabled && name != "" && !httpguts.ValidHeaderFieldName(name) {
		errs = append(errs, fmt.Sprintf("http.correlation_header is not a valid header name: %q", name))
	}
	if err := c.HTTP.Config.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("http: %v", err))
	}
	if err := c.Client.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("client.%v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}

	return nil
}

// LoggerConfig converts the log section to a logger configuration.
func (c *Config) LoggerConfig() *log.Config {
	lc := log.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = log.Format(c.Log.Format)
	lc.AddSource = c.Log.AddSource
	return lc
}

// Resource returns the resource description for the service.
func (c *Config) Resource() tracing.ResourceConfig {
	return tracing.ResourceConfig{
		ServiceName:    c.Service.Name,
		ServiceVersion: c.Service.Version,
		Environment:    c.Service.Environment,
		Attributes:     c.Service.Attributes,
	}
}
