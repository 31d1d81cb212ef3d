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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tombee/otelhook/internal/commands/shared"
	"github.com/tombee/otelhook/internal/config"
	"github.com/tombee/otelhook/internal/tracing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestConfigShowCommand(t *testing.T) {
	tests := []struct {
		name       string
		config     string
		wantErr    bool
		wantOutput []string
		notOutput  []string
	}{
		{
			name:    "missing file",
			wantErr: true,
		},
		{
			name:       "valid config",
			config:     "service:\n  name: checkout\n",
			wantOutput: []string{"name: checkout", "correlation_header: x-trace-id"},
		},
		{
			name: "exporter headers are masked",
			config: `tracing:
  exporters:
    - type: otlp
      endpoint: collector:4317
      headers:
        x-api-key: sk-live-1234567890abcdef
`,
			wantOutput: []string{"sk-l****************cdef"},
			notOutput:  []string{"sk-live-1234567890abcdef"},
		},
		{
			name:    "invalid config",
			config:  "tracing:\n  sampling:\n    rate: 3\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "missing.yaml")
			if tt.config != "" {
				path = writeConfig(t, tt.config)
			}
			shared.SetConfigPathForTest(path)
			defer shared.SetConfigPathForTest("")

			var buf bytes.Buffer
			cmd := newConfigShowCommand()
			cmd.SetOut(&buf)
			cmd.SetArgs([]string{})

			err := cmd.Execute()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			for _, want := range tt.wantOutput {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("expected output to contain %q, got:\n%s", want, buf.String())
				}
			}
			for _, bad := range tt.notOutput {
				if strings.Contains(buf.String(), bad) {
					t.Errorf("output must not contain %q", bad)
				}
			}
		})
	}
}

func TestConfigShowJSON(t *testing.T) {
	shared.SetConfigPathForTest(writeConfig(t, "http:\n  correlation_header: false\n"))
	shared.SetJSONForTest(true)
	defer shared.SetConfigPathForTest("")
	defer shared.SetJSONForTest(false)

	var buf bytes.Buffer
	cmd := newConfigShowCommand()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	httpSection, _ := doc["http"].(map[string]any)
	if httpSection["correlation_header"] != false {
		t.Errorf("expected correlation_header false, got %v", httpSection["correlation_header"])
	}
}

func TestConfigPathCommand(t *testing.T) {
	shared.SetConfigPathForTest("/tmp/custom.yaml")
	defer shared.SetConfigPathForTest("")

	var buf bytes.Buffer
	cmd := newConfigPathCommand()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.TrimSpace(buf.String()) != "/tmp/custom.yaml" {
		t.Errorf("unexpected path %q", buf.String())
	}
}

func TestConfigValidateCommand(t *testing.T) {
	shared.SetConfigPathForTest(writeConfig(t, "server:\n  addr: 127.0.0.1:9090\n"))
	defer shared.SetConfigPathForTest("")

	var buf bytes.Buffer
	cmd := newConfigValidateCommand()
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(buf.String(), "configuration is valid") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestMaskSensitiveConfig_DoesNotModifyOriginal(t *testing.T) {
	cfg := config.Default()
	cfg.Tracing.Exporters = []tracing.ExporterConfig{{Type: tracing.ExporterOTLP, Headers: map[string]string{"authorization": "Bearer abcdefghijkl"}}}

	masked := maskSensitiveConfig(cfg)

	if cfg.Tracing.Exporters[0].Headers["authorization"] != "Bearer abcdefghijkl" {
		t.Error("original config was modified")
	}
	if masked.Tracing.Exporters[0].Headers["authorization"] == "Bearer abcdefghijkl" {
		t.Error("header was not masked")
	}
}

func TestMaskValue(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "****"},
		{"${OTLP_TOKEN}", "${OTLP_TOKEN}"},
		{"abcd1234efgh", "abcd****efgh"},
	}
	for _, tt := range tests {
		if got := maskValue(tt.in); got != tt.want {
			t.Errorf("maskValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
