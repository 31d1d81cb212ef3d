package httpclient

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/otelhook/internal/log"
)

// loggingTransport sets the User-Agent and logs each round trip with its
// sanitized URL, outcome and duration. When the request context carries a
// span, the line is annotated with its trace and span ids.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

func newLoggingTransport(base http.RoundTripper, userAgent string, logger *slog.Logger) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{
		base:      base,
		userAgent: userAgent,
		logger:    log.OrDefault(logger),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if req.Header.Get("User-Agent") == "" {
		// RoundTrippers must not modify the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	ctx := req.Context()
	logger := log.WithTraceContext(t.logger, trace.SpanContextFromContext(ctx))
	attrs := []slog.Attr{
		slog.String("method", req.Method),
		slog.String("url", sanitizeURL(req.URL)),
		log.Duration("duration", duration),
	}

	if err != nil {
		logger.LogAttrs(ctx, slog.LevelWarn, "http request failed", append(attrs, log.Error(err))...)
		return resp, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx, level, "http request", append(attrs, slog.Int("status", resp.StatusCode))...)
	return resp, nil
}
