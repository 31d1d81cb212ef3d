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

package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tombee/otelhook/internal/config"
	"github.com/tombee/otelhook/internal/host/httphost"
	"github.com/tombee/otelhook/internal/log"
	"github.com/tombee/otelhook/internal/telemetry/outbound"
	"github.com/tombee/otelhook/pkg/httpclient"
	"github.com/tombee/otelhook/sdk"
)

const readHeaderTimeout = 10 * time.Second

// Server is the demo server: an instrumented host, the telemetry SDK
// attached to it and the outbound client used by /proxy.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	host    *httphost.Host
	sdk     *sdk.SDK
	client  *http.Client
	handler http.Handler
}

// NewServer wires the host, outbound client and SDK for cfg. Extra SDK
// options are applied last. The SDK is not started.
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...sdk.Option) (*Server, error) {
	logger = log.OrDefault(logger)

	client, err := httpclient.New(cfg.Client, httpclient.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create outbound client: %w", err)
	}

	host := httphost.New(logger)
	base := []sdk.Option{
		sdk.WithLogger(logger),
		sdk.WithAccessLog(),
		sdk.WithInstrumentations(outbound.New(
			outbound.WithClient(client),
			outbound.WithLogger(logger),
		)),
	}
	s, metricsHandler, err := sdk.FromConfig(ctx, cfg, host, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("configure telemetry: %w", err)
	}

	srv := &Server{
		cfg:    cfg,
		logger: log.WithComponent(logger, "serve"),
		host:   host,
		sdk:    s,
		client: client,
	}

	// Scrapes bypass the host so they do not show up as traced requests.
	mux := http.NewServeMux()
	if metricsHandler != nil {
		mux.Handle(cfg.Metrics.Prometheus.Path, metricsHandler)
	}
	mux.Handle("/", host.Middleware(srv.routes()))
	srv.handler = mux

	return srv, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// SDK returns the telemetry SDK.
func (s *Server) SDK() *sdk.SDK { return s.sdk }

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		// Release the span store opened by FromConfig.
		_ = s.sdk.Shutdown(context.Background())
		return fmt.Errorf("listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve starts telemetry and serves on ln until ctx is done, then drains
// in-flight requests and flushes telemetry within server.shutdown_timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.sdk.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("start telemetry: %w", err)
	}

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
		errCh <- httpSrv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if serveErr != nil {
		errs = append(errs, fmt.Errorf("serve: %w", serveErr))
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.sdk.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}
