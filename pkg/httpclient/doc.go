// Package httpclient builds the outbound HTTP client used by otelhookd's
// proxy endpoint, with consistent timeout, retry and logging behavior.
//
// The client is a plain *http.Client, so outbound tracing is added on top by
// the telemetry outbound instrumentation, which wraps the client's transport
// from the outside:
//
//	outbound span -> retry -> logging -> http.Transport
//
// Every retry attempt therefore shares the one CLIENT span and the same
// traceparent header, and each attempt's log line carries that span's ids.
//
// # Usage
//
//	client, err := httpclient.New(httpclient.DefaultConfig(),
//		httpclient.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	resp, err := client.Get("https://api.example.com/resource")
//
// # Retry Behavior
//
// Transient failures are retried with exponential backoff and jitter:
//   - HTTP 5xx, 408 and 429 (Retry-After is honored when shorter than the backoff)
//   - timeouts and connection level network errors
//   - never 4xx client errors other than 408 and 429
//   - only GET, HEAD and OPTIONS unless AllowNonIdempotentRetry is set
//
// Request bodies are replayed through Request.GetBody, so a non-idempotent
// retry of a request built by http.NewRequest sends the full body again.
//
// # Logging
//
// One line per attempt: Debug for success, Warn for 4xx/5xx and transport
// errors. Sensitive query parameters and URL user info are redacted, and
// headers are never logged.
package httpclient
