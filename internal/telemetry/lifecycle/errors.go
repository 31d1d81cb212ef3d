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

package lifecycle

import (
	"fmt"
)

// Well-known request failures reported by hosts.
var (
	ErrRequestAborted = &NonError{Value: "request aborted"}
	ErrRequestTimeout = &NonError{Value: "request timeout"}
)

// NonError wraps a value that was reported as a request failure but is not
// an error.
type NonError struct {
	Value any
}

// Error implements the error interface.
func (e *NonError) Error() string {
	switch v := e.Value.(type) {
	case nil:
		return "unknown error"
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// NormalizeError returns v when it already is an error, and wraps anything
// else in a NonError so span exception recording has one shape.
func NormalizeError(v any) error {
	if err, ok := v.(error); ok && err != nil {
		return err
	}
	return &NonError{Value: v}
}
