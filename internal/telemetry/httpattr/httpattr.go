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

// Package httpattr holds the legacy HTTP attribute keys emitted alongside
// the stable semantic conventions. Downstream dashboards still query these
// names, so they must not change.
package httpattr

import "go.opentelemetry.io/otel/attribute"

// Legacy HTTP semantic convention keys.
const (
	Method                = attribute.Key("http.method")
	URL                   = attribute.Key("http.url")
	Target                = attribute.Key("http.target")
	Scheme                = attribute.Key("http.scheme")
	Host                  = attribute.Key("http.host")
	UserAgent             = attribute.Key("http.user_agent")
	RequestContentLength  = attribute.Key("http.request_content_length")
	StatusCode            = attribute.Key("http.status_code")
	ResponseContentLength = attribute.Key("http.response_content_length")
)
