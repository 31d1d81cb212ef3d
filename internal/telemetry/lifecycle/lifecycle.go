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

// Package lifecycle defines the contract between a host server and the
// telemetry subscribers it drives.
//
// A host assigns every request a RequestID and reports its progress through
// Callbacks. For each id it fires OnRequestStart once, OnResponseHeaders zero
// or more times, then exactly one of OnRequestEnd or OnRequestError. An id may
// be reused only after its terminal event. A host that drops the terminal
// event for an aborted connection leaks the subscriber's state for that id
// for the life of the process.
package lifecycle

import (
	"context"
	"errors"

	"github.com/tombee/otelhook/internal/telemetry/carrier"
	"github.com/tombee/otelhook/internal/telemetry/request"
)

// RequestID is the host-assigned request key. It carries no ordering.
type RequestID uint64

// Callbacks receives lifecycle events. Implementations must not block.
// Events for different ids may arrive concurrently; events for a single id
// arrive in order.
type Callbacks interface {
	OnRequestStart(id RequestID, req request.RequestLike)
	OnResponseHeaders(id RequestID, statusCode int, contentLength int64, headers carrier.Carrier)
	OnRequestEnd(id RequestID)
	OnRequestError(id RequestID, err any)
}

// Multi fans every event out to each element in order.
type Multi []Callbacks

func (m Multi) OnRequestStart(id RequestID, req request.RequestLike) {
	for _, c := range m {
		c.OnRequestStart(id, req)
	}
}

func (m Multi) OnResponseHeaders(id RequestID, statusCode int, contentLength int64, headers carrier.Carrier) {
	for _, c := range m {
		c.OnResponseHeaders(id, statusCode, contentLength, headers)
	}
}

func (m Multi) OnRequestEnd(id RequestID) {
	for _, c := range m {
		c.OnRequestEnd(id)
	}
}

func (m Multi) OnRequestError(id RequestID, err any) {
	for _, c := range m {
		c.OnRequestError(id, err)
	}
}

// Instrument is what a subscriber registers with a host.
type Instrument struct {
	// Name identifies the instrument in logs.
	Name string

	// Callbacks receives the lifecycle events.
	Callbacks Callbacks

	// CorrelationHeader is the response header OnResponseStart values are
	// written to. Empty disables correlation.
	CorrelationHeader string

	// OnResponseStart is queried once per request, just before response
	// headers are written. Nil means no correlation values.
	OnResponseStart func(id RequestID) []string

	// Context, if set, derives the context handed to request handlers. It
	// runs after OnRequestStart.
	Context func(ctx context.Context, id RequestID) context.Context
}

// InstrumentRef identifies an attached instrument.
type InstrumentRef uint64

// Host is implemented by servers that emit lifecycle events.
type Host interface {
	Attach(inst Instrument) (InstrumentRef, error)
	Detach(ref InstrumentRef) error
}

var (
	// ErrNoCallbacks is returned when attaching an instrument without callbacks.
	ErrNoCallbacks = errors.New("instrument has no callbacks")
	// ErrUnknownInstrument is returned when detaching an unknown ref.
	ErrUnknownInstrument = errors.New("unknown instrument")
)
