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
	"go.opentelemetry.io/contrib/propagators/b3"
	"go.opentelemetry.io/otel/propagation"
)

// PropagationConfig selects the propagation formats. Enabled formats are
// injected together; on extraction the last one that finds a context wins.
type PropagationConfig struct {
	TraceContext     bool `yaml:"trace_context"`
	Baggage          bool `yaml:"baggage"`
	B3SingleHeader   bool `yaml:"b3_single_header"`
	B3MultipleHeader bool `yaml:"b3_multiple_header"`
}

// DefaultPropagationConfig enables W3C trace context and baggage.
func DefaultPropagationConfig() PropagationConfig {
	return PropagationConfig{TraceContext: true, Baggage: true}
}

// W3CPropagator returns the W3C trace context and baggage propagator.
func W3CPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// CreatePropagator builds the composite propagator for cfg. With nothing
// enabled it falls back to W3CPropagator.
func CreatePropagator(cfg PropagationConfig) propagation.TextMapPropagator {
	var props []propagation.TextMapPropagator

	// B3 goes first so W3C trace context takes precedence when both are
	// present on an inbound request.
	var enc b3.Encoding
	if cfg.B3SingleHeader {
		enc |= b3.B3SingleHeader
	}
	if cfg.B3MultipleHeader {
		enc |= b3.B3MultipleHeader
	}
	if enc != 0 {
		props = append(props, b3.New(b3.WithInjectEncoding(enc)))
	}
	if cfg.TraceContext {
		props = append(props, propagation.TraceContext{})
	}
	if cfg.Baggage {
		props = append(props, propagation.Baggage{})
	}

	if len(props) == 0 {
		return W3CPropagator()
	}
	return propagation.NewCompositeTextMapPropagator(props...)
}
