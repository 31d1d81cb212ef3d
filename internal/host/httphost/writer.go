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

package httphost

import (
	"bufio"
	"net"
	"net/http"
	"strconv"

	"github.com/tombee/otelhook/internal/telemetry/carrier"
	"github.com/tombee/otelhook/internal/telemetry/lifecycle"
)

// responseWriter reports the response headers once, just before they are
// sent, after adding correlation headers.
type responseWriter struct {
	http.ResponseWriter
	id          lifecycle.RequestID
	insts       []lifecycle.Instrument
	cbs         lifecycle.Multi
	wroteHeader bool
	hijacked    bool
}

func (w *responseWriter) WriteHeader(code int) {
	// 1xx responses other than 101 may be sent several times before the
	// final header.
	if w.hijacked || w.wroteHeader || (code >= 100 && code < 200 && code != http.StatusSwitchingProtocols) {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.wroteHeader = true

	header := w.ResponseWriter.Header()
	for _, inst := range w.insts {
		if inst.CorrelationHeader == "" || inst.OnResponseStart == nil {
			continue
		}
		values := inst.OnResponseStart(w.id)
		if len(values) == 0 {
			continue
		}
		header.Del(inst.CorrelationHeader)
		for _, v := range values {
			header.Add(inst.CorrelationHeader, v)
		}
	}

	var length int64
	if cl := header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			length = n
		}
	}
	w.cbs.OnResponseHeaders(w.id, code, length, carrier.Server(header))

	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader && !w.hijacked {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher when the underlying writer does.
func (w *responseWriter) Flush() {
	if !w.wroteHeader && !w.hijacked {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker. http.ResponseController finds it before
// unwrapping, so a hijack through either path is seen here.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, brw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.hijacked = true
	}
	return conn, brw, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
