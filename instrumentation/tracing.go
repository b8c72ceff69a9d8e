package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// Never set session identifiers, hardware identifiers, shared secrets,
// or derived keys as span attributes. Traces outlive requests and are
// visible to a wider audience than the service itself; only metadata
// like user IDs, feature keys, and outcome labels belongs here.
const (
	// Pipeline attributes
	AttrUserID       = "gateway.user_id"
	AttrFeatureKey   = "gateway.feature_key"
	AttrFeatureCount = "gateway.feature_count"
	AttrCipherMode   = "gateway.cipher_mode"
	AttrRejectReason = "gateway.reject_reason"

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageBackend   = "storage.backend"

	// Security attributes
	AttrClientIP = "security.client_ip"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with an error status (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe).
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddPipelineAttributes adds request pipeline attributes to a span
// (nil-safe). Empty values are omitted.
func AddPipelineAttributes(span trace.Span, userID, featureKey, cipherMode string) {
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if featureKey != "" {
		SetSpanAttributes(span, attribute.String(AttrFeatureKey, featureKey))
	}
	if cipherMode != "" {
		SetSpanAttributes(span, attribute.String(AttrCipherMode, cipherMode))
	}
}

// AddStorageAttributes adds record store attributes to a span (nil-safe).
func AddStorageAttributes(span trace.Span, operation, backend string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageBackend, backend),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe).
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
