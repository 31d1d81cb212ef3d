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

// Package export builds span exporters for OTLP collectors and the console.
//
// Constructors never dial. Connection problems surface on the first export,
// where the batch processor reports them through the OTel error handler.
package export

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// UserAgent is sent by the gRPC exporter.
const UserAgent = "otelhook"

// Target is an OTLP collector destination.
type Target struct {
	// Endpoint is host:port, or a full URL. A URL's scheme decides
	// whether TLS is used unless TLS is set.
	Endpoint string

	// Headers are sent with every export, typically for authentication.
	Headers map[string]string

	// TLS secures the connection. Nil with a bare host:port means plaintext.
	TLS *tls.Config

	// Timeout bounds a single export. Zero keeps the exporter default.
	Timeout time.Duration

	// Gzip compresses payloads.
	Gzip bool
}

func (t Target) isURL() bool {
	return strings.Contains(t.Endpoint, "://")
}

// NewOTLPGRPC returns an OTLP/gRPC span exporter for t.
func NewOTLPGRPC(ctx context.Context, t Target) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(UserAgent)),
	}
	if t.Endpoint != "" {
		if t.isURL() {
			opts = append(opts, otlptracegrpc.WithEndpointURL(t.Endpoint))
		} else {
			opts = append(opts, otlptracegrpc.WithEndpoint(t.Endpoint))
		}
	}
	switch {
	case t.TLS != nil:
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(t.TLS)))
	case !t.isURL():
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(t.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(t.Headers))
	}
	if t.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(t.Timeout))
	}
	if t.Gzip {
		opts = append(opts, otlptracegrpc.WithCompressor("gzip"))
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP gRPC exporter: %w", err)
	}
	return exp, nil
}

// NewOTLPHTTP returns an OTLP/HTTP span exporter for t. A bare host:port
// posts to the default /v1/traces path.
func NewOTLPHTTP(ctx context.Context, t Target) (sdktrace.SpanExporter, error) {
	var opts []otlptracehttp.Option
	if t.Endpoint != "" {
		if t.isURL() {
			opts = append(opts, otlptracehttp.WithEndpointURL(t.Endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(t.Endpoint))
		}
	}
	switch {
	case t.TLS != nil:
		opts = append(opts, otlptracehttp.WithTLSClientConfig(t.TLS))
	case !t.isURL():
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(t.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(t.Headers))
	}
	if t.Timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(t.Timeout))
	}
	if t.Gzip {
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	}

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP HTTP exporter: %w", err)
	}
	return exp, nil
}
