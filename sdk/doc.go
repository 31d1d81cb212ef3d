// Package sdk wires HTTP lifecycle events from a host server into
// OpenTelemetry spans, correlation headers and server metrics.
//
// An SDK owns one span registry and one metrics aggregator, attaches both to
// the host on Start and detaches them on Shutdown. Multiple SDK instances
// never share request state.
//
// # Quick Start
//
//	host := httphost.New(logger)
//
//	s, err := sdk.New(
//		sdk.WithHost(host),
//		sdk.WithServiceName("checkout"),
//		sdk.WithExporters(exporter),
//		sdk.WithRequestHeaderAttributes("content-type", "x-tenant"),
//		sdk.WithInstrumentations(outbound.New()),
//	)
//	if err != nil {
//		return err
//	}
//	if err := s.Start(ctx); err != nil {
//		return err
//	}
//	defer s.Shutdown(context.Background())
//
//	http.ListenAndServe(":8080", host.Middleware(mux))
//
// # Ordering
//
// Start builds the resource, installs the global propagator, builds or
// adopts the tracer and meter providers and installs them globally, attaches
// the registry and aggregator to the host, and only then hands the providers
// to instrumentations and enables them.
//
// Shutdown runs the reverse: instrumentations are disabled first, in-flight
// spans are abandoned rather than ended, the host is detached, the meter
// provider is shut down and the tracer provider is flushed and shut down
// last so every ended span is exported.
//
// # Configuration files
//
// FromConfig builds an SDK from an internal/config Config, including the
// exporter pipeline, sampling, propagation, redaction and a Prometheus
// scrape handler.
package sdk
