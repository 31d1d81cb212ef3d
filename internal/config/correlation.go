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
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tombee/otelhook/internal/telemetry/registry"
	otelerrors "github.com/tombee/otelhook/pkg/errors"
)

// CorrelationHeader is a header name or the literal false. The zero value
// selects the default header.
type CorrelationHeader struct {
	Name     string
	Disabled bool
}

// UnmarshalYAML accepts a string or the boolean false.
func (h *CorrelationHeader) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: correlation_header must be a header name or false", node.Line)
	}
	switch node.ShortTag() {
	case "!!null":
		*h = CorrelationHeader{}
	case "!!bool":
		var on bool
		if err := node.Decode(&on); err != nil {
			return err
		}
		if on {
			return fmt.Errorf("line %d: correlation_header: true is not a header name", node.Line)
		}
		*h = CorrelationHeader{Disabled: true}
	default:
		*h = CorrelationHeader{Name: strings.TrimSpace(node.Value)}
	}
	return nil
}

// MarshalYAML writes false when disabled and the effective header name
// otherwise.
func (h CorrelationHeader) MarshalYAML() (any, error) {
	if h.Disabled {
		return false, nil
	}
	return h.HeaderName(), nil
}

// parseCorrelationHeader reads the environment form, where "false", "0" and
// "off" disable the header. Any other boolean spelling is rejected, matching
// the YAML form.
func parseCorrelationHeader(s string) (CorrelationHeader, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "off") {
		return CorrelationHeader{Disabled: true}, nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		if b {
			return CorrelationHeader{}, &otelerrors.ConfigError{
				Key:    "http.correlation_header",
				Reason: fmt.Sprintf("%q is not a header name", s),
			}
		}
		return CorrelationHeader{Disabled: true}, nil
	}
	return CorrelationHeader{Name: s}, nil
}

// Correlation converts h to the registry option.
func (h CorrelationHeader) Correlation() registry.Correlation {
	if h.Disabled {
		return registry.CorrelationDisabled()
	}
	return registry.CorrelationHeader(h.Name)
}

// HeaderName returns the effective header, or "" when disabled.
func (h CorrelationHeader) HeaderName() string {
	return h.Correlation().HeaderName()
}
