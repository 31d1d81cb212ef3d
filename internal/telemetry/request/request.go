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

// Package request classifies inbound request values and normalizes them
// into a URLInfo snapshot.
package request

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tombee/otelhook/internal/telemetry/carrier"
)

// Defaults used when a request omits a field.
const (
	DefaultMethod = http.MethodGet
	DefaultPath   = "/"
	DefaultHost   = "localhost"
	DefaultScheme = "http"
)

// RequestLike is either a Fetch or a Server request.
type RequestLike interface {
	method() string
	headers() carrier.Carrier
}

// Fetch is a request that carries an absolute URL, such as one built by a
// client.
type Fetch struct {
	Method string
	URL    string
	Header carrier.Fetch
}

// Server is a request as seen by a listening server: only the request path
// is known, the host comes from headers or the connection authority.
type Server struct {
	Method string
	Path   string
	// Query is the raw query string without the leading '?'.
	Query  string
	Header carrier.Server
	// Encrypted reports whether the connection uses TLS.
	Encrypted bool
	// Authority is the host the connection was addressed to. It is used when
	// the headers carry no host entry.
	Authority string
}

func (f Fetch) method() string            { return f.Method }
func (f Fetch) headers() carrier.Carrier  { return f.Header }
func (s Server) method() string           { return s.Method }
func (s Server) headers() carrier.Carrier { return s.Header }

// FromHTTP converts a net/http server request. net/http removes the Host
// header from r.Header, so it is carried as Authority.
func FromHTTP(r *http.Request) Server {
	if r == nil {
		return Server{}
	}
	s := Server{
		Method:    r.Method,
		Header:    carrier.Server(r.Header),
		Encrypted: r.TLS != nil,
		Authority: r.Host,
	}
	if r.URL != nil {
		s.Path = r.URL.EscapedPath()
		s.Query = r.URL.RawQuery
	}
	return s
}

// URLInfo is the normalized view of a request computed once at start.
type URLInfo struct {
	FullURL string
	Path    string
	// Target is the path plus query, as sent on the request line.
	Target string
	Host   string
	Scheme string
	// UserAgent is empty when the request carries none.
	UserAgent        string
	ContentLength    int64
	HasContentLength bool
}

// Method returns the upper-cased request method, or GET when unset.
func Method(r RequestLike) string {
	r = deref(r)
	if r == nil {
		return DefaultMethod
	}
	m := strings.TrimSpace(r.method())
	if m == "" {
		return DefaultMethod
	}
	return strings.ToUpper(m)
}

// Headers returns the request's header carrier, or the null carrier.
func Headers(r RequestLike) carrier.Carrier {
	r = deref(r)
	if r == nil {
		return carrier.Null{}
	}
	return carrier.From(r.headers())
}

// Normalize computes URLInfo for r. It never panics; missing or malformed
// fields fall back to the package defaults.
func Normalize(r RequestLike) URLInfo {
	r = deref(r)

	var info URLInfo
	switch req := r.(type) {
	case Fetch:
		info = normalizeFetch(req)
	case Server:
		info = normalizeServer(req)
	}
	if info.Host == "" {
		info = defaults(info.FullURL)
	}

	h := Headers(r)
	if ua, ok := h.Get("user-agent"); ok {
		info.UserAgent = ua
	}
	if raw, ok := h.Get("content-length"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && n >= 0 {
			info.ContentLength = n
			info.HasContentLength = true
		}
	}
	return info
}

// deref turns pointer variants into values; a nil pointer becomes nil.
func deref(r RequestLike) RequestLike {
	switch req := r.(type) {
	case *Fetch:
		if req == nil {
			return nil
		}
		return *req
	case *Server:
		if req == nil {
			return nil
		}
		return *req
	}
	return r
}

func defaults(fullURL string) URLInfo {
	if fullURL == "" {
		fullURL = DefaultScheme + "://" + DefaultHost + DefaultPath
	}
	return URLInfo{
		FullURL: fullURL,
		Path:    DefaultPath,
		Target:  DefaultPath,
		Host:    DefaultHost,
		Scheme:  DefaultScheme,
	}
}

func normalizeFetch(f Fetch) URLInfo {
	u, err := url.Parse(f.URL)
	if err != nil || u.Host == "" {
		return defaults(f.URL)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = DefaultScheme
	}
	path := u.EscapedPath()
	if path == "" {
		path = DefaultPath
	}
	target := path
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return URLInfo{
		FullURL: f.URL,
		Path:    path,
		Target:  target,
		Host:    u.Host,
		Scheme:  scheme,
	}
}

func normalizeServer(s Server) URLInfo {
	scheme := "http"
	if s.Encrypted {
		scheme = "https"
	}

	host, ok := s.Header.Get("host")
	if !ok || host == "" {
		host = s.Authority
	}
	if host == "" {
		host = DefaultHost
	}

	path := s.Path
	if path == "" {
		path = DefaultPath
	}
	target := path
	if s.Query != "" {
		target += "?" + s.Query
	}

	return URLInfo{
		FullURL: scheme + "://" + host + target,
		Path:    path,
		Target:  target,
		Host:    host,
		Scheme:  scheme,
	}
}
