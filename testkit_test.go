package rwpool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestDB_UnsetMethodsReturnErrNotMocked(t *testing.T) {
	t.Parallel()

	db := &TestDB{}
	ctx := context.Background()

	res, err := db.Execute(ctx, Select("select 1"), nil)
	require.ErrorIs(t, err, ErrNotMocked)
	assert.Nil(t, res)

	c, err := db.StartTransaction(ctx, ReadWrite)
	require.ErrorIs(t, err, ErrNotMocked)
	assert.Nil(t, c)

	assert.ErrorIs(t, db.CommitTransaction(ctx, nil), ErrNotMocked)
	assert.ErrorIs(t, db.RollbackTransaction(ctx, nil), ErrNotMocked)

	called := false
	require.NoError(t, db.WithTx(ctx, ReadOnly, func(*Conn) error { called = true; return nil }))
	assert.True(t, called, "WithTx did not run fn")

	h := db.Healthcheck(ctx)
	assert.True(t, h.OK(), "Healthcheck=%+v, want both available", h)
	assert.NoError(t, db.Shutdown(ctx))
}

func TestTestDB_UsesConfiguredFuncs(t *testing.T) {
	t.Parallel()

	wantRes := NewResult("value").AddRow("ok").Build()
	shutdownErr := errors.New("shutdown boom")
	var calledExecute, calledStart, calledCommit, calledRollback, calledWithTx, calledHealth bool

	db := &TestDB{
		ExecuteFunc: func(_ context.Context, q Query, params any) (*Result, error) {
			calledExecute = true
			assert.Equal(t, "select value", q.Template())
			assert.Equal(t, 7, params)
			return wantRes, nil
		},
		StartTransactionFunc: func(_ context.Context, tt TxType) (*Conn, error) {
			calledStart = true
			assert.Equal(t, ReadWrite, tt)
			return nil, nil
		},
		CommitTransactionFunc:   func(context.Context, *Conn) error { calledCommit = true; return nil },
		RollbackTransactionFunc: func(context.Context, *Conn) error { calledRollback = true; return nil },
		WithTxFunc: func(_ context.Context, _ TxType, fn func(*Conn) error) error {
			calledWithTx = true
			return fn(nil)
		},
		HealthcheckFunc: func(context.Context) Health {
			calledHealth = true
			return Health{Primary: HealthcheckResult{Available: true}}
		},
		ShutdownFunc: func(context.Context) error { return shutdownErr },
	}
	ctx := context.Background()

	res, err := db.Execute(ctx, Select("select value"), 7)
	require.NoError(t, err)
	assert.Same(t, wantRes, res)

	_, err = db.StartTransaction(ctx, ReadWrite)
	require.NoError(t, err)
	_ = db.CommitTransaction(ctx, nil)
	_ = db.RollbackTransaction(ctx, nil)
	_ = db.WithTx(ctx, ReadOnly, func(*Conn) error { return nil })
	assert.False(t, db.Healthcheck(ctx).OK(), "Healthcheck returned default result")
	assert.ErrorIs(t, db.Shutdown(ctx), shutdownErr)

	assert.True(t, calledExecute, "execute")
	assert.True(t, calledStart, "start")
	assert.True(t, calledCommit, "commit")
	assert.True(t, calledRollback, "rollback")
	assert.True(t, calledWithTx, "withTx")
	assert.True(t, calledHealth, "health")
}

func TestTestQuery_CompileAndRetry(t *testing.T) {
	t.Parallel()

	q := &TestQuery{QueryKind: KindWrite, Text: "insert into t values ($1, $2)"}
	stmt, err := q.Compile([]any{1, "a"})
	require.NoError(t, err)
	assert.Equal(t, q.Text, stmt.SQL)
	assert.Len(t, stmt.Args, 2)
	assert.False(t, q.IsRetryable(errors.New("x")), "IsRetryable without Retry func")

	bad := errors.New("bad params")
	q.CompileErr = bad
	_, err = q.Compile(nil)
	require.ErrorIs(t, err, bad)
	assert.EqualValues(t, 2, q.Compiled())
}

func TestResultBuilder_Build(t *testing.T) {
	t.Parallel()

	res := NewResult("id", "name").
		AddRow(int64(1), "ada").
		AddRow(int64(2), "grace").
		Build()

	require.Len(t, res.Fields, 2)
	assert.Equal(t, "id", res.Fields[0].Name)
	assert.Equal(t, "name", res.Fields[1].Name)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, int64(1), res.Rows[0]["id"])
	assert.Equal(t, "grace", res.Rows[1]["name"])
}

func TestResultBuilder_AddRowPanicsOnArityMismatch(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewResult("a", "b").AddRow(1) })
}
