package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the gateway.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Request pipeline
	SessionsRejected metric.Int64Counter
	FeaturesDenied   metric.Int64Counter
	PayloadsIssued   metric.Int64Counter

	// Security
	RateLimitExceeded metric.Int64Counter
	SealOperations    metric.Int64Counter
	SealDuration      metric.Float64Histogram

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram

	// Sweeper
	SessionsSwept metric.Int64Counter
	SweepDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	pipelineMeter := inst.Meter("pipeline")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")
	sweeperMeter := inst.Meter("sweeper")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"gateway.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"gateway.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.SessionsRejected, err = pipelineMeter.Int64Counter(
		"gateway.sessions.rejected",
		metric.WithDescription("Number of requests rejected during session validation"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.rejected counter: %w", err)
	}

	m.FeaturesDenied, err = pipelineMeter.Int64Counter(
		"gateway.features.denied",
		metric.WithDescription("Number of single-feature requests denied"),
		metric.WithUnit("{denial}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create features.denied counter: %w", err)
	}

	m.PayloadsIssued, err = pipelineMeter.Int64Counter(
		"gateway.payloads.issued",
		metric.WithDescription("Number of encrypted payloads issued"),
		metric.WithUnit("{payload}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create payloads.issued counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"gateway.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.SealOperations, err = securityMeter.Int64Counter(
		"gateway.seal.operations.total",
		metric.WithDescription("Total number of field seal operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create seal.operations.total counter: %w", err)
	}

	m.SealDuration, err = securityMeter.Float64Histogram(
		"gateway.seal.duration",
		metric.WithDescription("Field seal operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create seal.duration histogram: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"gateway.storage.operation.total",
		metric.WithDescription("Total number of record store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"gateway.storage.operation.duration",
		metric.WithDescription("Record store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.SessionsSwept, err = sweeperMeter.Int64Counter(
		"gateway.sessions.swept",
		metric.WithDescription("Number of expired sessions removed by the sweeper"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.swept counter: %w", err)
	}

	m.SweepDuration, err = sweeperMeter.Float64Histogram(
		"gateway.sweep.duration",
		metric.WithDescription("Session sweep duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep.duration histogram: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordSessionRejected records a session validation rejection.
func (m *Metrics) RecordSessionRejected(ctx context.Context, reason string) {
	m.SessionsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordFeatureDenied records a single-feature denial.
func (m *Metrics) RecordFeatureDenied(ctx context.Context, reason string) {
	m.FeaturesDenied.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordPayloadIssued records a successfully issued payload.
func (m *Metrics) RecordPayloadIssued(ctx context.Context, mode string, featureCount int) {
	m.PayloadsIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Int("features", featureCount),
	))
}

// RecordRateLimitExceeded records a rate limit violation.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context) {
	m.RateLimitExceeded.Add(ctx, 1)
}

// RecordSealOperation records a field seal operation.
func (m *Metrics) RecordSealOperation(ctx context.Context, mode string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
	}

	m.SealOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.SealDuration.Record(ctx, durationMs, metric.WithAttributes(attrs...))
}

// RecordStorageOperation records a record store operation.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordSweep records one sweeper pass.
func (m *Metrics) RecordSweep(ctx context.Context, swept int, durationMs float64) {
	m.SessionsSwept.Add(ctx, int64(swept))
	m.SweepDuration.Record(ctx, durationMs)
}
