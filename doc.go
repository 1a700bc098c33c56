// Package rwpool manages a pair of database connection pools for a replicated
// deployment: a write-capable primary and a read-only replica.
//
// Queries are routed by kind. Select queries run on the replica pool and
// write queries on the primary. Transient failures are retried on the same
// connection with a backoff derived from the remaining retry budget, and
// connections that report a fatal driver error are destroyed instead of being
// returned to their pool.
//
// Invariants:
//
//   - a connection is never handed back to its pool with a transaction open;
//     releasing one rolls the transaction back first and logs an error.
//   - commit and rollback without a registered transaction fail with
//     ErrNoTransaction and never reach the driver.
//   - a fatal driver error always destroys the connection and is never retried.
//   - connection metadata (role, owning pool, transaction) lives in a side
//     table keyed weakly by the driver's connection, never on the connection.
//   - health checks report failures in their result and never return an error.
//
// Postgres (pgx v5) and MySQL (go-sql-driver/mysql) are supported.
package rwpool
