// Package dbexec provides query execution abstractions: an executor
// wrapping *sql.DB/*sql.Tx with tracing and metrics, scoped
// transactions, and row scanning into logical maps.
package dbexec

import (
	"context"
	"database/sql"
	"time"
)

// Rows abstracts sql.Rows so tests and wrappers can substitute cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// Querier is the common query surface of *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Executor runs statements against a Querier, recording a span and
// metrics per statement. Errors from the underlying engine propagate
// unmodified.
type Executor struct {
	q       Querier
	metrics *QueryMetrics
}

// NewExecutor wraps a Querier. Metrics may be nil.
func NewExecutor(q Querier, metrics *QueryMetrics) *Executor {
	return &Executor{q: q, metrics: metrics}
}

// Query executes a select statement.
func (e *Executor) Query(ctx context.Context, operation, query string, args ...any) (Rows, error) {
	if e.q == nil {
		return nil, sql.ErrConnDone
	}
	ctx, span := startQuerySpan(ctx, operation)
	start := time.Now()
	rows, err := e.q.QueryContext(ctx, query, args...)
	e.metrics.record(ctx, operation, time.Since(start), err)
	finishQuerySpan(span, err)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Exec executes a mutating statement.
func (e *Executor) Exec(ctx context.Context, operation, query string, args ...any) (sql.Result, error) {
	if e.q == nil {
		return nil, sql.ErrConnDone
	}
	ctx, span := startQuerySpan(ctx, operation)
	start := time.Now()
	result, err := e.q.ExecContext(ctx, query, args...)
	e.metrics.record(ctx, operation, time.Since(start), err)
	finishQuerySpan(span, err)
	return result, err
}
