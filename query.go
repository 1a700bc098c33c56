package rwpool

import "fmt"

// QueryKind decides which pool a query is routed to.
type QueryKind int

const (
	// KindSelect queries are read-only and run on the replica pool.
	KindSelect QueryKind = iota
	// KindWrite queries run on the primary pool.
	KindWrite
)

func (k QueryKind) String() string {
	if k == KindWrite {
		return "write"
	}
	return "select"
}

// Statement is a compiled query ready to be sent to the driver.
type Statement struct {
	SQL  string
	Args []any
}

// Query is a unit of work executed by the Manager.
//
// Template is only used for logging. Compile errors are returned to the
// caller without a retry. IsRetryable is consulted for every non-fatal
// driver error.
type Query interface {
	Kind() QueryKind
	Template() string
	Compile(params any) (Statement, error)
	IsRetryable(err error) bool
}

// SQL is a Query whose text is sent to the driver as-is, with params bound as
// positional arguments.
type SQL struct {
	QueryKind QueryKind
	Text      string

	// Retryable overrides IsTransient as the retry predicate.
	Retryable func(error) bool
}

var _ Query = (*SQL)(nil)

// Select returns a select-kind SQL query.
func Select(text string) *SQL {
	return &SQL{QueryKind: KindSelect, Text: text}
}

// Write returns a write-kind SQL query.
func Write(text string) *SQL {
	return &SQL{QueryKind: KindWrite, Text: text}
}

func (q *SQL) Kind() QueryKind  { return q.QueryKind }
func (q *SQL) Template() string { return q.Text }

// Compile accepts nil, a []any of positional arguments, or a single value.
func (q *SQL) Compile(params any) (Statement, error) {
	if q.Text == "" {
		return Statement{}, fmt.Errorf("rwpool: empty query text")
	}
	switch p := params.(type) {
	case nil:
		return Statement{SQL: q.Text}, nil
	case []any:
		return Statement{SQL: q.Text, Args: p}, nil
	default:
		return Statement{SQL: q.Text, Args: []any{p}}, nil
	}
}

func (q *SQL) IsRetryable(err error) bool {
	if q.Retryable != nil {
		return q.Retryable(err)
	}
	return IsTransient(err)
}

// Field describes a result column.
type Field struct {
	Name string `json:"name"`
}

// Result is the normalized outcome of a query. Select queries fill Rows and
// Fields; write queries fill RowsAffected and LastInsertID.
type Result struct {
	Rows         []map[string]any `json:"rows,omitempty"`
	Fields       []Field          `json:"fields,omitempty"`
	RowsAffected int64            `json:"rowsAffected"`
	LastInsertID int64            `json:"lastInsertId,omitempty"`
}
