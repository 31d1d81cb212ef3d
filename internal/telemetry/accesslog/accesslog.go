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

// Package accesslog writes one structured log line per completed request.
package accesslog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/otelhook/internal/log"
	"github.com/tombee/otelhook/internal/telemetry/carrier"
	"github.com/tombee/otelhook/internal/telemetry/lifecycle"
	"github.com/tombee/otelhook/internal/telemetry/request"
)

// SpanLookup resolves the span recorded for a request, if any.
type SpanLookup func(id lifecycle.RequestID) (trace.SpanContext, bool)

type entry struct {
	method string
	path   string
	status int
	start  time.Time
	sc     trace.SpanContext
}

// Logger is a lifecycle subscriber. Attach it after the span registry so the
// lookup can see the request's span at start.
type Logger struct {
	logger *slog.Logger
	lookup SpanLookup
	now    func() time.Time

	mu      sync.Mutex
	pending map[lifecycle.RequestID]*entry
}

var _ lifecycle.Callbacks = (*Logger)(nil)

// New returns an access logger. lookup may be nil.
func New(logger *slog.Logger, lookup SpanLookup) *Logger {
	return &Logger{
		logger:  log.WithComponent(log.OrDefault(logger), "access"),
		lookup:  lookup,
		now:     time.Now,
		pending: make(map[lifecycle.RequestID]*entry),
	}
}

func (l *Logger) OnRequestStart(id lifecycle.RequestID, req request.RequestLike) {
	info := request.Normalize(req)
	e := &entry{
		method: request.Method(req),
		path:   info.Path,
		start:  l.now(),
	}
	if l.lookup != nil {
		e.sc, _ = l.lookup(id)
	}

	l.mu.Lock()
	l.pending[id] = e
	l.mu.Unlock()

	log.Trace(l.logger, "request started",
		slog.String(log.EventKey, "request_start"),
		slog.String("method", e.method),
		slog.String("path", e.path),
	)
}

func (l *Logger) OnResponseHeaders(id lifecycle.RequestID, statusCode int, _ int64, _ carrier.Carrier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.pending[id]; ok {
		e.status = statusCode
	}
}

func (l *Logger) OnRequestEnd(id lifecycle.RequestID) {
	l.finish(id, nil)
}

func (l *Logger) OnRequestError(id lifecycle.RequestID, err any) {
	l.finish(id, lifecycle.NormalizeError(err))
}

func (l *Logger) finish(id lifecycle.RequestID, err error) {
	l.mu.Lock()
	e, ok := l.pending[id]
	if ok {
		delete(l.pending, id)
	}
	l.mu.Unlock()
	if !ok {
		return
	}

	attrs := []slog.Attr{
		slog.String(log.EventKey, "request_end"),
		slog.String("method", e.method),
		slog.String("path", e.path),
		log.Duration("duration", l.now().Sub(e.start).Milliseconds()),
	}
	if e.status > 0 {
		attrs = append(attrs, slog.Int("status", e.status))
	}
	if e.sc.IsValid() {
		attrs = append(attrs,
			slog.String(log.TraceIDKey, e.sc.TraceID().String()),
			slog.String(log.SpanIDKey, e.sc.SpanID().String()),
		)
	}

	level := slog.LevelInfo
	msg := "request completed"
	if err != nil {
		level = slog.LevelError
		msg = "request failed"
		attrs = append(attrs, log.Error(err))
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Len returns the number of requests awaiting a terminal event.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}
