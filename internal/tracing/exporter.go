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
	"fmt"
	"log/slog"
	"os"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tombee/otelhook/internal/log"
	"github.com/tombee/otelhook/internal/tracing/export"
	"github.com/tombee/otelhook/internal/tracing/redact"
	"github.com/tombee/otelhook/internal/tracing/storage"
	"github.com/tombee/otelhook/pkg/errors"
)

// Pipeline is what BuildPipeline produced: span processors for the tracer
// provider and, when a sqlite exporter is configured, the store behind it.
type Pipeline struct {
	Processors []sdktrace.SpanProcessor
	Store      *storage.SQLiteStore
	Retention  *RetentionManager
}

// Close stops retention and closes the store. Call it after the tracer
// provider has shut down so the last batch is still written.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}
	if p.Retention != nil {
		p.Retention.Stop()
	}
	if p.Store != nil {
		return p.Store.Close()
	}
	return nil
}

// NewRedactor builds the redactor for cfg.
func NewRedactor(cfg RedactionConfig) (*redact.Redactor, error) {
	mode, err := redact.ParseMode(cfg.Level)
	if err != nil {
		return nil, &errors.ConfigError{Key: "tracing.redaction.level", Reason: err.Error(), Cause: err}
	}
	return redact.New(mode), nil
}

// CreateExporter builds the exporter for one destination. It returns nil
// for type none.
func CreateExporter(ctx context.Context, cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Type {
	case ExporterConsole:
		return export.NewConsole(os.Stdout, cfg.Pretty)

	case ExporterOTLP, ExporterOTLPHTTP:
		tlsCfg, err := export.TLSOptions{
			Enabled:           cfg.TLS.Enabled,
			VerifyCertificate: cfg.TLS.VerifyCertificate,
			CACertPath:        cfg.TLS.CACertPath,
		}.Build()
		if err != nil {
			return nil, &errors.ExporterError{Exporter: cfg.Type, Endpoint: cfg.Endpoint, Cause: err}
		}
		target := export.Target{
			Endpoint: cfg.Endpoint,
			Headers:  cfg.Headers,
			TLS:      tlsCfg,
			Timeout:  cfg.Timeout,
			Gzip:     cfg.Gzip,
		}
		var exp sdktrace.SpanExporter
		if cfg.Type == ExporterOTLP {
			exp, err = export.NewOTLPGRPC(ctx, target)
		} else {
			exp, err = export.NewOTLPHTTP(ctx, target)
		}
		if err != nil {
			return nil, &errors.ExporterError{Exporter: cfg.Type, Endpoint: cfg.Endpoint, Cause: err}
		}
		return exp, nil

	case ExporterNone, "":
		return nil, nil

	case ExporterSQLite:
		return nil, &errors.ExporterError{Exporter: cfg.Type, Cause: errors.New("sqlite exporters are built by BuildPipeline")}

	default:
		return nil, &errors.ExporterError{Exporter: cfg.Type, Cause: fmt.Errorf("unknown exporter type %q", cfg.Type)}
	}
}

// BuildPipeline creates a batch span processor per configured exporter.
// An exporter that fails to build is logged and skipped so telemetry
// problems never block startup. At most one sqlite store is opened.
func BuildPipeline(ctx context.Context, cfg Config, red *redact.Redactor, logger *slog.Logger) (*Pipeline, error) {
	logger = log.WithComponent(log.OrDefault(logger), "tracing")
	p := &Pipeline{}

	var batchOpts []sdktrace.BatchSpanProcessorOption
	if cfg.BatchSize > 0 {
		batchOpts = append(batchOpts, sdktrace.WithMaxExportBatchSize(cfg.BatchSize))
	}
	if cfg.BatchInterval > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchInterval))
	}

	for i, ec := range cfg.Exporters {
		var (
			exp sdktrace.SpanExporter
			err error
		)
		if ec.Type == ExporterSQLite {
			exp, err = p.sqliteExporter(ec, red)
		} else {
			exp, err = CreateExporter(ctx, ec)
		}
		if err != nil {
			logger.Warn("failed to create exporter, skipping",
				slog.Int("index", i),
				slog.String("type", ec.Type),
				slog.String("endpoint", ec.Endpoint),
				log.Error(err),
			)
			continue
		}
		if exp == nil {
			continue
		}

		var proc sdktrace.SpanProcessor = sdktrace.NewBatchSpanProcessor(exp, batchOpts...)
		if cfg.Sampling.keepsErrors() {
			proc = keepErrors(proc)
		}
		p.Processors = append(p.Processors, proc)
		logger.Info("created exporter", slog.String("type", ec.Type), slog.String("endpoint", ec.Endpoint))
	}

	if p.Store != nil {
		p.Retention = NewRetentionManager(p.Store, cfg.Retention, logger)
	}
	return p, nil
}

func (p *Pipeline) sqliteExporter(ec ExporterConfig, red *redact.Redactor) (sdktrace.SpanExporter, error) {
	if p.Store != nil {
		return nil, &errors.ExporterError{Exporter: ec.Type, Cause: errors.New("only one sqlite exporter is supported")}
	}
	store, err := storage.New(storage.Config{Path: ec.Path})
	if err != nil {
		return nil, &errors.ExporterError{Exporter: ec.Type, Endpoint: ec.Path, Cause: err}
	}
	p.Store = store

	var ar storage.AttributeRedactor
	if red != nil {
		ar = red
	}
	return storage.NewExporter(store, ar), nil
}

// SpanLimits applies cfg on top of the SDK defaults.
func SpanLimits(cfg SpanLimitsConfig) sdktrace.SpanLimits {
	limits := sdktrace.NewSpanLimits()
	if cfg.AttributeCount > 0 {
		limits.AttributeCountLimit = cfg.AttributeCount
	}
	if cfg.EventCount > 0 {
		limits.EventCountLimit = cfg.EventCount
	}
	return limits
}
