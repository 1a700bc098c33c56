package rwpool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/go-sql-driver/mysql"
)

// mysqlThreadIDs numbers tracked MySQL connections for logging. The driver
// does not expose the server's connection id.
var mysqlThreadIDs atomic.Uint32

func mysqlConfig(cfg PoolConfig) (*mysql.Config, error) {
	if cfg.ConnectionString != "" {
		return mysql.ParseDSN(cfg.ConnectionString)
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = cfg.Host
	if cfg.Port > 0 {
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	mc.DBName = cfg.Database
	mc.ParseTime = true
	return mc, nil
}

func openMySQL(ctx context.Context, role Role, cfg PoolConfig, hooks connHooks, o *connectOptions) (driverPool, error) {
	mc, err := mysqlConfig(cfg)
	if err != nil {
		// SECURITY: parse errors from upstream may contain DSN content.
		return nil, &SafeError{msg: fmt.Sprintf("rwpool: invalid %s connection string", role), cause: err}
	}
	if mc.Timeout == 0 {
		mc.Timeout = cfg.ConnectTimeout
	}
	if o != nil && o.mysqlConfigModifier != nil {
		o.mysqlConfigModifier(role, mc)
	}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, &SafeError{msg: fmt.Sprintf("rwpool: failed to create %s pool (host=%s)", role, mc.Addr), cause: err}
	}

	db := sql.OpenDB(&trackingConnector{Connector: connector, hooks: hooks})
	db.SetMaxOpenConns(int(cfg.MaxConns))
	db.SetMaxIdleConns(int(cfg.MaxConns))
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &SafeError{
			msg:   fmt.Sprintf("rwpool: initial ping of %s failed (host=%s)", role, mc.Addr),
			cause: err,
		}
	}

	return &mysqlPool{db: db, url: "mysql://" + mc.Addr + "/" + mc.DBName}, nil
}

// trackingConnector registers every new physical connection with the
// registry before database/sql starts pooling it.
type trackingConnector struct {
	driver.Connector
	hooks connHooks
}

func (c *trackingConnector) Connect(ctx context.Context) (driver.Conn, error) {
	dc, err := c.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	tc := &trackedConn{Conn: dc, id: mysqlThreadIDs.Add(1), hooks: c.hooks}
	c.hooks.connected(track(c.hooks.registry, tc), tc.id)
	return tc, nil
}

// trackedConn is the identity the registry keys MySQL connections by. It
// forwards the optional driver interfaces of the wrapped connection.
type trackedConn struct {
	driver.Conn
	id    uint32
	hooks connHooks
}

func (c *trackedConn) Close() error {
	c.hooks.closed(keyOf(c))
	return c.Conn.Close()
}

func (c *trackedConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	return c.Conn.Begin() //nolint:staticcheck // fallback for drivers without BeginTx
}

func (c *trackedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	if p, ok := c.Conn.(driver.ConnPrepareContext); ok {
		return p.PrepareContext(ctx, query)
	}
	return c.Conn.Prepare(query)
}

func (c *trackedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if e, ok := c.Conn.(driver.ExecerContext); ok {
		return e.ExecContext(ctx, query, args)
	}
	return nil, driver.ErrSkip
}

func (c *trackedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if q, ok := c.Conn.(driver.QueryerContext); ok {
		return q.QueryContext(ctx, query, args)
	}
	return nil, driver.ErrSkip
}

func (c *trackedConn) Ping(ctx context.Context) error {
	if p, ok := c.Conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *trackedConn) ResetSession(ctx context.Context) error {
	if r, ok := c.Conn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

func (c *trackedConn) IsValid() bool {
	if v, ok := c.Conn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (c *trackedConn) CheckNamedValue(nv *driver.NamedValue) error {
	if n, ok := c.Conn.(driver.NamedValueChecker); ok {
		return n.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

type mysqlPool struct {
	db  *sql.DB
	url string
}

func (p *mysqlPool) Acquire(ctx context.Context) (driverConn, error) {
	sc, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	var tc *trackedConn
	err = sc.Raw(func(dc any) error {
		var ok bool
		tc, ok = dc.(*trackedConn)
		if !ok {
			return fmt.Errorf("rwpool: unexpected driver connection %T", dc)
		}
		return nil
	})
	if err != nil {
		_ = sc.Close()
		return nil, err
	}
	return &mysqlConn{conn: sc, tc: tc}, nil
}

func (p *mysqlPool) Stat() PoolStat {
	s := p.db.Stats()
	return PoolStat{
		Idle:  int32(s.Idle),
		InUse: int32(s.InUse),
		Total: int32(s.OpenConnections),
		Max:   int32(s.MaxOpenConnections),
	}
}

func (p *mysqlPool) URL() string { return p.url }

func (p *mysqlPool) Close(context.Context) error {
	return p.db.Close()
}

type mysqlConn struct {
	conn *sql.Conn
	tc   *trackedConn
}

func (c *mysqlConn) key() connKey     { return keyOf(c.tc) }

func (c *mysqlConn) track(r *registry) connKey { return track(r, c.tc) }
func (c *mysqlConn) ThreadID() uint32 { return c.tc.id }

func (c *mysqlConn) Query(ctx context.Context, stmt Statement) (*Result, error) {
	rows, err := c.conn.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	fields := make([]Field, len(cols))
	for i, col := range cols {
		fields[i] = Field{Name: col}
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			m[cols[i]] = v
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Result{Rows: out, Fields: fields}, nil
}

func (c *mysqlConn) Exec(ctx context.Context, stmt Statement) (*Result, error) {
	res, err := c.conn.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	insertID, _ := res.LastInsertId()
	return &Result{RowsAffected: affected, LastInsertID: insertID}, nil
}

func (c *mysqlConn) IsFatal(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		!c.tc.IsValid()
}

func (c *mysqlConn) Release() { _ = c.conn.Close() }

// Destroy makes database/sql discard the physical connection instead of
// pooling it.
func (c *mysqlConn) Destroy() {
	_ = c.conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = c.conn.Close()
}
