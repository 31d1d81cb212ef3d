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
	"io"
	"maps"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/otelhook/internal/commands/shared"
	"github.com/tombee/otelhook/internal/config"
	"github.com/tombee/otelhook/internal/tracing"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
		Long: `View the effective otelhook configuration.

Subcommands:
  show     - Display the effective configuration (default)
  path     - Show config file location
  validate - Check the configuration and exit non-zero if it is invalid`,
		RunE: runConfigShow,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(newConfigValidateCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after defaults and environment overrides
are applied. Exporter header values are masked.`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Args:  cobra.NoArgs,
		RunE:  runConfigPath,
	}
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, path, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if path == "" {
				path = "defaults and environment"
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK("configuration is valid ("+path+")"))
			return nil
		},
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, path, err := shared.LoadConfig()
	if err != nil {
		return err
	}

	masked := maskSensitiveConfig(cfg)
	out := cmd.OutOrStdout()

	if shared.GetJSON() {
		return outputConfigJSON(out, masked)
	}
	return outputConfigYAML(out, path, masked)
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path, err := config.ConfigPath()
	if flag := shared.GetConfigPath(); flag != "" {
		path, err = flag, nil
	}
	if err != nil {
		return fmt.Errorf("failed to determine config path: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

// maskSensitiveConfig returns a copy of cfg with exporter header values
// masked. OTLP headers commonly carry API keys.
func maskSensitiveConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	masked.Tracing.Exporters = make([]tracing.ExporterConfig, len(cfg.Tracing.Exporters))
	for i, exp := range cfg.Tracing.Exporters {
		if len(exp.Headers) > 0 {
			exp.Headers = maps.Clone(exp.Headers)
			for k, v := range exp.Headers {
				exp.Headers[k] = maskValue(v)
			}
		}
		masked.Tracing.Exporters[i] = exp
	}
	return &masked
}

// maskValue keeps the first and last four characters of long values.
func maskValue(v string) string {
	if v == "" {
		return ""
	}

	// Environment variable references are not secrets
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return v
	}

	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}

// outputConfigJSON renders cfg as JSON using its YAML key names.
func outputConfigJSON(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return shared.EmitJSON(w, doc)
}

func outputConfigYAML(w io.Writer, path string, cfg *config.Config) error {
	if path == "" {
		path = "(defaults and environment)"
	}
	fmt.Fprintf(w, "%s %s\n", shared.RenderLabel("Configuration:"), path)
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return encoder.Close()
}
