package postgres

import (
	"context"
	"database/sql"
)

// dbExecutor is the subset of *sql.DB every repo in this package calls
// through. Both *sql.DB and *circuitbreaker.DBCircuitBreaker satisfy it, so
// cmd/api and cmd/worker can wrap the pool in a circuit breaker without this
// package depending on the concrete wrapper type.
type dbExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
