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

// Package serve runs the demo HTTP server with telemetry attached.
package serve

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/otelhook/internal/commands/shared"
	"github.com/tombee/otelhook/internal/config"
	"github.com/tombee/otelhook/internal/log"
)

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo server with tracing and metrics",
		Long: `Run an HTTP server whose requests are traced and measured.

Routes:
  /          greeting with the current trace id
  /echo      echoes the request method, path, headers and body as JSON
  /proxy     fetches ?url= through the instrumented outbound client
  /status/N  responds with status N
  /healthz   liveness probe

The Prometheus scrape endpoint is mounted when metrics.prometheus.enabled
is set. SIGINT or SIGTERM shuts the server down and flushes pending spans.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger := newLogger(cfg, shared.GetVerbose())
			slog.SetDefault(logger)

			return run(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	srv, err := NewServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

// newLogger builds the process logger. Text output is used on a terminal
// unless LOG_FORMAT picks a format explicitly.
func newLogger(cfg *config.Config, verbose bool) *slog.Logger {
	lc := cfg.LoggerConfig()
	if verbose && log.ParseLevel(lc.Level) > slog.LevelDebug {
		lc.Level = "debug"
	}
	if os.Getenv("LOG_FORMAT") == "" && term.IsTerminal(int(os.Stderr.Fd())) {
		lc.Format = log.FormatText
	}
	return log.New(lc)
}
