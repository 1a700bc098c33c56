package rwpool

import "context"

// DB defines the contract for replicated database access.
//
// All methods require context.Context. Cancellation aborts waiting for a
// connection and retry backoff; a statement already sent to the server runs
// to completion on its connection.
//
// Prefer depending on DB rather than *Manager so application code remains
// testable (via TestDB). Pool statistics are not part of this contract; they
// belong on the concrete Manager type.
type DB interface {
	// Execute routes q to the replica (select) or primary (write) pool and
	// runs it with retries.
	Execute(ctx context.Context, q Query, params any) (*Result, error)

	// StartTransaction checks out a connection and opens a transaction on it.
	// The caller owns the connection until CommitTransaction or
	// RollbackTransaction succeeds.
	StartTransaction(ctx context.Context, t TxType) (*Conn, error)

	CommitTransaction(ctx context.Context, c *Conn) error
	RollbackTransaction(ctx context.Context, c *Conn) error

	// WithTx commits when fn succeeds and rolls back otherwise.
	WithTx(ctx context.Context, t TxType, fn func(*Conn) error) error

	// Healthcheck never fails; failures are reported in the result.
	Healthcheck(ctx context.Context) Health

	// Shutdown closes both pools. Call once during graceful shutdown.
	Shutdown(ctx context.Context) error
}
