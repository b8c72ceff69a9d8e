// Package instrumentation provides OpenTelemetry metrics and tracing
// for the gateway.
//
// The package is built around a single Instrumentation value created
// from Config. When Enabled is false, no-op providers are installed and
// every recording call is free, so callers never need to guard metric
// or span code behind a flag.
//
// Meters and tracers are scoped per layer ("http", "pipeline",
// "storage", "security", "sweeper") so exported telemetry identifies
// which part of the gateway produced it.
//
// Pre-configured instruments live on Metrics, obtained via
// Instrumentation.Metrics(). Recording helpers cover the common cases:
//
//	inst.Metrics().RecordHTTPRequest(ctx, "POST", "/hmx/get-apis", 200, 12.5)
//	inst.Metrics().RecordSessionRejected(ctx, "expired")
//	inst.Metrics().RecordPayloadIssued(ctx, "digest", 3)
//
// Span helpers (RecordError, SetSpanSuccess, SetSpanAttributes) are
// nil-safe so call sites stay unconditional.
//
// Never attach secret material to telemetry. Session identifiers,
// hardware identifiers, and derived keys must not appear as span
// attributes or metric labels; use user IDs, feature keys, and outcome
// labels instead.
package instrumentation
