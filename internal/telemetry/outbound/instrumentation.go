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

package outbound

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/otelhook/internal/log"
	"github.com/tombee/otelhook/internal/telemetry/metrics"
)

// DefaultName is the instrumentation and tracer scope name.
const DefaultName = "otelhook.http.client"

// Instrumentation installs a Transport on an *http.Client and can restore the
// client's original transport. Enable and Disable mutate the client, so call
// them before the client is shared or while it is idle.
type Instrumentation struct {
	name       string
	client     *http.Client
	propagator propagation.TextMapPropagator
	logger     *slog.Logger

	mu        sync.Mutex
	tp        trace.TracerProvider
	mp        metric.MeterProvider
	original  http.RoundTripper
	installed *Transport
}

// Option configures an Instrumentation.
type Option func(*Instrumentation)

// WithClient selects the client to instrument. The default is
// http.DefaultClient.
func WithClient(c *http.Client) Option {
	return func(i *Instrumentation) {
		if c != nil {
			i.client = c
		}
	}
}

// WithName overrides the tracer and meter scope name.
func WithName(name string) Option {
	return func(i *Instrumentation) {
		if name != "" {
			i.name = name
		}
	}
}

// WithPropagator sets the propagator used for injection.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(i *Instrumentation) { i.propagator = p }
}

// WithTracerProvider sets the tracer provider up front.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(i *Instrumentation) { i.tp = tp }
}

// WithMeterProvider sets the meter provider up front.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(i *Instrumentation) { i.mp = mp }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Instrumentation) { i.logger = l }
}

// New returns a disabled instrumentation.
func New(opts ...Option) *Instrumentation {
	i := &Instrumentation{
		name:   DefaultName,
		client: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = log.WithComponent(log.OrDefault(i.logger), "outbound")
	return i
}

// Name returns the instrumentation name.
func (i *Instrumentation) Name() string { return i.name }

// SetTracerProvider sets the provider used on the next Enable.
func (i *Instrumentation) SetTracerProvider(tp trace.TracerProvider) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tp = tp
}

// SetMeterProvider sets the provider used on the next Enable.
func (i *Instrumentation) SetMeterProvider(mp metric.MeterProvider) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.mp = mp
}

// Enable wraps the client's transport. Enabling an installed instrumentation
// restores the original transport first, so it is never wrapped twice.
func (i *Instrumentation) Enable() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.installed != nil {
		i.restoreLocked()
		i.logger.Debug("re-enabling outbound instrumentation")
	}

	tp := i.tp
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	recorder, err := metrics.NewClientRecorder(i.mp, metrics.WithScope(i.name))
	if err != nil {
		return fmt.Errorf("enabling %s: %w", i.name, err)
	}

	i.original = i.client.Transport
	i.installed = NewTransport(i.original,
		WithTracer(tp.Tracer(i.name)),
		WithTransportPropagator(i.propagator),
		WithClientRecorder(recorder),
	)
	i.client.Transport = i.installed
	return nil
}

// Disable restores the original transport. It is a no-op when not enabled.
func (i *Instrumentation) Disable() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.installed != nil {
		i.restoreLocked()
	}
	return nil
}

// Enabled reports whether the transport is installed.
func (i *Instrumentation) Enabled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.installed != nil
}

func (i *Instrumentation) restoreLocked() {
	if i.client.Transport != i.installed {
		i.logger.Warn("client transport was replaced after instrumentation, restoring original anyway")
	}
	i.client.Transport = i.original
	i.original = nil
	i.installed = nil
}

// Install enables outbound tracing on client and returns a function that
// restores it.
func Install(client *http.Client, opts ...Option) (restore func(), err error) {
	inst := New(append([]Option{WithClient(client)}, opts...)...)
	if err := inst.Enable(); err != nil {
		return nil, err
	}
	return func() { _ = inst.Disable() }, nil
}
