package rwpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrNotMocked is returned when a TestDB method is called without a
// corresponding Func field set.
var ErrNotMocked = errors.New("rwpool.TestDB: method not mocked, set the corresponding Func field")

// TestDB is a mock DB implementation for unit tests.
type TestDB struct {
	ExecuteFunc             func(ctx context.Context, q Query, params any) (*Result, error)
	StartTransactionFunc    func(ctx context.Context, t TxType) (*Conn, error)
	CommitTransactionFunc   func(ctx context.Context, c *Conn) error
	RollbackTransactionFunc func(ctx context.Context, c *Conn) error
	WithTxFunc              func(ctx context.Context, t TxType, fn func(*Conn) error) error
	HealthcheckFunc         func(ctx context.Context) Health
	ShutdownFunc            func(ctx context.Context) error
}

var _ DB = (*TestDB)(nil)

func (t *TestDB) Execute(ctx context.Context, q Query, params any) (*Result, error) {
	if t.ExecuteFunc != nil {
		return t.ExecuteFunc(ctx, q, params)
	}
	return nil, ErrNotMocked
}

func (t *TestDB) StartTransaction(ctx context.Context, tt TxType) (*Conn, error) {
	if t.StartTransactionFunc != nil {
		return t.StartTransactionFunc(ctx, tt)
	}
	return nil, ErrNotMocked
}

func (t *TestDB) CommitTransaction(ctx context.Context, c *Conn) error {
	if t.CommitTransactionFunc != nil {
		return t.CommitTransactionFunc(ctx, c)
	}
	return ErrNotMocked
}

func (t *TestDB) RollbackTransaction(ctx context.Context, c *Conn) error {
	if t.RollbackTransactionFunc != nil {
		return t.RollbackTransactionFunc(ctx, c)
	}
	return ErrNotMocked
}

// WithTx calls WithTxFunc when set. Otherwise it runs fn with a nil *Conn,
// which is enough for code that only forwards the connection to other
// mocked calls.
func (t *TestDB) WithTx(ctx context.Context, tt TxType, fn func(*Conn) error) error {
	if t.WithTxFunc != nil {
		return t.WithTxFunc(ctx, tt, fn)
	}
	return fn(nil)
}

// Healthcheck reports both pools available unless HealthcheckFunc is set.
func (t *TestDB) Healthcheck(ctx context.Context) Health {
	if t.HealthcheckFunc != nil {
		return t.HealthcheckFunc(ctx)
	}
	return Health{
		Primary: HealthcheckResult{Available: true, URL: "test://primary"},
		Replica: HealthcheckResult{Available: true, URL: "test://replica"},
	}
}

func (t *TestDB) Shutdown(ctx context.Context) error {
	if t.ShutdownFunc != nil {
		return t.ShutdownFunc(ctx)
	}
	return nil
}

// TestQuery is a Query with scriptable compile and retry behavior.
type TestQuery struct {
	QueryKind QueryKind
	Text      string

	// CompileErr, when set, is returned by Compile.
	CompileErr error
	// Retry decides IsRetryable. A nil Retry never retries.
	Retry func(error) bool

	compiled atomic.Int64
}

var _ Query = (*TestQuery)(nil)

func (q *TestQuery) Kind() QueryKind  { return q.QueryKind }
func (q *TestQuery) Template() string { return q.Text }

func (q *TestQuery) Compile(params any) (Statement, error) {
	q.compiled.Add(1)
	if q.CompileErr != nil {
		return Statement{}, q.CompileErr
	}
	stmt := Statement{SQL: q.Text}
	switch p := params.(type) {
	case nil:
	case []any:
		stmt.Args = p
	default:
		stmt.Args = []any{p}
	}
	return stmt, nil
}

func (q *TestQuery) IsRetryable(err error) bool {
	return q.Retry != nil && q.Retry(err)
}

// Compiled returns how many times Compile was called.
func (q *TestQuery) Compiled() int {
	return int(q.compiled.Load())
}

// ResultBuilder builds a select Result from in-memory rows.
type ResultBuilder struct {
	columns []string
	rows    [][]any
}

// NewResult creates a new ResultBuilder.
func NewResult(columns ...string) *ResultBuilder {
	return &ResultBuilder{columns: columns}
}

// AddRow appends a row. It panics on arity mismatch.
func (b *ResultBuilder) AddRow(values ...any) *ResultBuilder {
	if len(values) != len(b.columns) {
		panic(fmt.Sprintf("rwpool.ResultBuilder: %d values for %d columns", len(values), len(b.columns)))
	}
	b.rows = append(b.rows, values)
	return b
}

// Build returns the Result for the builder data.
func (b *ResultBuilder) Build() *Result {
	res := &Result{Fields: make([]Field, len(b.columns))}
	for i, col := range b.columns {
		res.Fields[i] = Field{Name: col}
	}
	for _, row := range b.rows {
		m := make(map[string]any, len(row))
		for i, v := range row {
			m[b.columns[i]] = v
		}
		res.Rows = append(res.Rows, m)
	}
	return res
}
