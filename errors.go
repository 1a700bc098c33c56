package rwpool

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNoTransaction is returned by commit and rollback when the connection
	// has no registered transaction. The driver is not called.
	ErrNoTransaction = errors.New("rwpool: no transaction running")

	// ErrClosed is returned once Shutdown has been called.
	ErrClosed = errors.New("rwpool: manager is shut down")

	// ErrUnknownDriver is returned by Connect for an unsupported Config.Driver.
	ErrUnknownDriver = errors.New("rwpool: unknown driver")
)

// SafeError wraps a cause with an error string safe for default production
// logging. The wrapped cause may still contain sensitive detail.
type SafeError struct {
	msg   string
	cause error
}

func (e *SafeError) Error() string { return e.msg }
func (e *SafeError) Unwrap() error { return e.cause }

// Postgres SQLSTATE and MySQL error numbers treated as transient.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// IsTransient reports whether err is a deadlock, serialization failure or lock
// wait timeout, or a pgconn error that is safe to retry because nothing was
// sent to the server.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockWaitTimeout
	}

	return pgconn.SafeToRetry(err)
}

// ErrorCode returns the driver's code for err: the SQLSTATE for Postgres, the
// error number for MySQL. Context expiry maps to ETIMEDOUT and anything else
// to UNKNOWN.
func ErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return strconv.Itoa(int(myErr.Number))
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "ETIMEDOUT"
	case errors.Is(err, context.Canceled):
		return "ECANCELED"
	case pgconn.Timeout(err):
		return "ETIMEDOUT"
	}
	return "UNKNOWN"
}
