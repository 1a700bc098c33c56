package rwpool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

type typedCause struct{}

func (e *typedCause) Error() string { return "typed cause" }

func TestSafeError_UnwrapSupportsErrorsIsAs(t *testing.T) {
	t.Parallel()

	sentinel := &typedCause{}
	err := &SafeError{msg: "safe message", cause: sentinel}

	assert.Equal(t, "safe message", err.Error())
	assert.ErrorIs(t, err, sentinel)

	var got *typedCause
	assert.ErrorAs(t, err, &got)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"pg serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"pg deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"mysql lock wait timeout", &mysql.MySQLError{Number: 1205}, true},
		{"mysql duplicate key", &mysql.MySQLError{Number: 1062}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestErrorCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"pg", &pgconn.PgError{Code: "57P03"}, "57P03"},
		{"mysql", fmt.Errorf("query: %w", &mysql.MySQLError{Number: 1045}), "1045"},
		{"deadline", context.DeadlineExceeded, "ETIMEDOUT"},
		{"canceled", fmt.Errorf("acquire: %w", context.Canceled), "ECANCELED"},
		{"other", errors.New("boom"), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}
