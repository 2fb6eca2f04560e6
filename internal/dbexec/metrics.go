package dbexec

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics holds per-statement counters and latency histograms.
type QueryMetrics struct {
	queryCounter  metric.Int64Counter
	errorCounter  metric.Int64Counter
	queryDuration metric.Float64Histogram
}

// InitQueryMetrics registers the statement metrics on the global meter.
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter("blitzorm")

	queryCounter, err := meter.Int64Counter(
		"db.statements.total",
		metric.WithDescription("Total number of SQL statements executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statement counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"db.statement.errors.total",
		metric.WithDescription("Total number of failed SQL statements"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	queryDuration, err := meter.Float64Histogram(
		"db.statement.duration",
		metric.WithDescription("Duration of SQL statements in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return &QueryMetrics{
		queryCounter:  queryCounter,
		errorCounter:  errorCounter,
		queryDuration: queryDuration,
	}, nil
}

// record is nil-safe so the executor works without initialized metrics.
func (m *QueryMetrics) record(ctx context.Context, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("db.operation", operation))
	m.queryCounter.Add(ctx, 1, attrs)
	m.queryDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	if err != nil {
		m.errorCounter.Add(ctx, 1, attrs)
	}
}
