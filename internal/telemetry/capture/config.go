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

package capture

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"

	otelerrors "github.com/tombee/otelhook/pkg/errors"
)

// ErrInvalidHeaderName is returned for names that are not valid HTTP tokens.
var ErrInvalidHeaderName = errors.New("invalid header name")

// sensitiveHeaders are never captured, whatever the configuration says.
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
	"x-auth-token":        {},
}

// IsSensitive reports whether name is on the always-blocked list.
func IsSensitive(name string) bool {
	_, ok := sensitiveHeaders[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Config lists the headers to capture on each side of a request.
type Config struct {
	RequestHeaders  []string `yaml:"request_headers"`
	ResponseHeaders []string `yaml:"response_headers"`
}

// Validate checks every configured name is an HTTP token.
func (c Config) Validate() error {
	var errs []error
	check := func(field string, names []string) {
		for i, name := range names {
			if !httpguts.ValidHeaderFieldName(strings.TrimSpace(name)) {
				errs = append(errs, &otelerrors.ValidationError{
					Field:      fmt.Sprintf("%s[%d]", field, i),
					Message:    fmt.Sprintf("%v: %q", ErrInvalidHeaderName, name),
					Suggestion: "use a plain header name such as content-type",
				})
			}
		}
	}
	check("request_headers", c.RequestHeaders)
	check("response_headers", c.ResponseHeaders)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidHeaderName, errors.Join(errs...))
}

// Sanitize returns a copy of c without sensitive headers, and the names that
// were dropped.
func (c Config) Sanitize() (Config, []string) {
	var dropped []string
	filter := func(names []string) []string {
		if names == nil {
			return nil
		}
		kept := make([]string, 0, len(names))
		for _, name := range names {
			if IsSensitive(name) {
				dropped = append(dropped, name)
				continue
			}
			kept = append(kept, name)
		}
		return kept
	}
	out := Config{
		RequestHeaders:  filter(c.RequestHeaders),
		ResponseHeaders: filter(c.ResponseHeaders),
	}
	return out, dropped
}

// Lists compiles the request and response lists.
func (c Config) Lists() (req, resp List) {
	return NewList(Request, c.RequestHeaders), NewList(Response, c.ResponseHeaders)
}
