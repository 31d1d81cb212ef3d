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

// Package httphost drives lifecycle callbacks from a net/http server.
//
// Wrap a handler with Host.Middleware and attach instruments to the Host.
// Request ids come from a process-wide counter and are never reused. Every
// started request gets exactly one terminal event: OnRequestError when the
// handler panics or the client goes away, OnRequestEnd otherwise.
package httphost

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/tombee/otelhook/internal/log"
	"github.com/tombee/otelhook/internal/telemetry/lifecycle"
	"github.com/tombee/otelhook/internal/telemetry/request"
)

type attached struct {
	ref  lifecycle.InstrumentRef
	inst lifecycle.Instrument
}

// Host implements lifecycle.Host for net/http handlers.
type Host struct {
	logger *slog.Logger

	ids  atomic.Uint64
	refs atomic.Uint64

	mu          sync.RWMutex
	instruments []attached
}

var _ lifecycle.Host = (*Host)(nil)

// New returns a host with no instruments attached.
func New(logger *slog.Logger) *Host {
	return &Host{logger: log.WithComponent(log.OrDefault(logger), "httphost")}
}

// Attach registers inst. Requests already in flight do not see it.
func (h *Host) Attach(inst lifecycle.Instrument) (lifecycle.InstrumentRef, error) {
	if inst.Callbacks == nil {
		return 0, lifecycle.ErrNoCallbacks
	}
	ref := lifecycle.InstrumentRef(h.refs.Add(1))

	h.mu.Lock()
	h.instruments = append(h.instruments, attached{ref: ref, inst: inst})
	h.mu.Unlock()

	h.logger.Debug("instrument attached", slog.String("instrument", inst.Name), slog.Uint64("ref", uint64(ref)))
	return ref, nil
}

// Detach removes the instrument. Requests already in flight still deliver
// their remaining events to it.
func (h *Host) Detach(ref lifecycle.InstrumentRef) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, a := range h.instruments {
		if a.ref == ref {
			h.instruments = append(h.instruments[:i:i], h.instruments[i+1:]...)
			h.logger.Debug("instrument detached", slog.String("instrument", a.inst.Name), slog.Uint64("ref", uint64(ref)))
			return nil
		}
	}
	return lifecycle.ErrUnknownInstrument
}

// Attached returns the number of attached instruments.
func (h *Host) Attached() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.instruments)
}

func (h *Host) snapshot() []lifecycle.Instrument {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.instruments) == 0 {
		return nil
	}
	out := make([]lifecycle.Instrument, len(h.instruments))
	for i, a := range h.instruments {
		out[i] = a.inst
	}
	return out
}

// Middleware wraps next so each request is reported to the attached
// instruments.
func (h *Host) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		insts := h.snapshot()
		if len(insts) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		id := lifecycle.RequestID(h.ids.Add(1))
		cbs := make(lifecycle.Multi, len(insts))
		for i, inst := range insts {
			cbs[i] = inst.Callbacks
		}
		cbs.OnRequestStart(id, request.FromHTTP(r))

		ctx := r.Context()
		for _, inst := range insts {
			if inst.Context != nil {
				ctx = inst.Context(ctx, id)
			}
		}

		rw := &responseWriter{ResponseWriter: w, id: id, insts: insts, cbs: cbs}
		defer func() {
			if p := recover(); p != nil {
				var failure any = p
				if p == http.ErrAbortHandler {
					failure = lifecycle.ErrRequestAborted
				}
				cbs.OnRequestError(id, failure)
				panic(p)
			}
		}()

		next.ServeHTTP(rw, r.WithContext(ctx))

		// A hijacked connection has no response for us to report.
		if rw.hijacked {
			cbs.OnRequestEnd(id)
			return
		}

		if err := r.Context().Err(); err != nil {
			failure := lifecycle.ErrRequestAborted
			if errors.Is(err, context.DeadlineExceeded) {
				failure = lifecycle.ErrRequestTimeout
			}
			cbs.OnRequestError(id, failure)
			return
		}

		if !rw.wroteHeader {
			rw.WriteHeader(http.StatusOK)
		}
		cbs.OnRequestEnd(id)
	})
}
