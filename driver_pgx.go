package rwpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const destroyTimeout = 5 * time.Second

// newPgxPool is a package-private seam used by tests to force deterministic
// pool-construction failures without network dependencies.
var newPgxPool = pgxpool.NewWithConfig

func pgxConnString(cfg PoolConfig) string {
	if cfg.ConnectionString != "" {
		return cfg.ConnectionString
	}

	u := url.URL{Scheme: "postgres", Host: cfg.Host, Path: "/" + cfg.Database}
	if cfg.Port > 0 {
		u.Host = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	switch {
	case cfg.User != "" && cfg.Password != "":
		u.User = url.UserPassword(cfg.User, cfg.Password)
	case cfg.User != "":
		u.User = url.User(cfg.User)
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}
	return u.String()
}

func openPgx(ctx context.Context, role Role, cfg PoolConfig, hooks connHooks, o *connectOptions) (driverPool, error) {
	pgxCfg, err := pgxpool.ParseConfig(pgxConnString(cfg))
	if err != nil {
		// SECURITY: parse errors from upstream may contain DSN content.
		return nil, &SafeError{msg: fmt.Sprintf("rwpool: invalid %s connection string", role), cause: err}
	}

	pgxCfg.MaxConns = cfg.MaxConns
	pgxCfg.MinConns = cfg.MinConns
	pgxCfg.MaxConnLifetime = cfg.MaxConnLifetime
	pgxCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	pgxCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pgxCfg.AfterConnect = func(_ context.Context, c *pgx.Conn) error {
		hooks.connected(track(hooks.registry, c), c.PgConn().PID())
		return nil
	}
	pgxCfg.BeforeClose = func(c *pgx.Conn) {
		hooks.closed(keyOf(c))
	}

	if o != nil && o.pgxConfigModifier != nil {
		o.pgxConfigModifier(role, pgxCfg)
	}

	cc := pgxCfg.ConnConfig
	host := cc.Host
	display := (&url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cc.Host, strconv.Itoa(int(cc.Port))),
		Path:   "/" + cc.Database,
	}).String()

	pool, err := newPgxPool(ctx, pgxCfg)
	if err != nil {
		// SECURITY: cause may include sensitive details; keep outer error safe.
		return nil, &SafeError{
			msg:   fmt.Sprintf("rwpool: failed to create %s pool (host=%s)", role, host),
			cause: err,
		}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &SafeError{
			msg:   fmt.Sprintf("rwpool: initial ping of %s failed (host=%s)", role, host),
			cause: err,
		}
	}

	return &pgxPool{pool: pool, url: display}, nil
}

// pgxPool wraps (does not embed) *pgxpool.Pool.
type pgxPool struct {
	pool *pgxpool.Pool
	url  string
}

func (p *pgxPool) Acquire(ctx context.Context) (driverConn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: c, raw: c.Conn()}, nil
}

func (p *pgxPool) Stat() PoolStat {
	s := p.pool.Stat()
	return PoolStat{
		Idle:     s.IdleConns(),
		InUse:    s.AcquiredConns(),
		Total:    s.TotalConns(),
		Max:      s.MaxConns(),
		Acquired: s.AcquireCount(),
	}
}

func (p *pgxPool) URL() string { return p.url }

// Close blocks until every checked-out connection has been released.
func (p *pgxPool) Close(context.Context) error {
	p.pool.Close()
	return nil
}

type pgxConn struct {
	conn *pgxpool.Conn
	raw  *pgx.Conn
}

func (c *pgxConn) key() connKey     { return keyOf(c.raw) }

func (c *pgxConn) track(r *registry) connKey { return track(r, c.raw) }
func (c *pgxConn) ThreadID() uint32 { return c.raw.PgConn().PID() }

func (c *pgxConn) Query(ctx context.Context, stmt Statement) (*Result, error) {
	rows, err := c.conn.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func (c *pgxConn) Exec(ctx context.Context, stmt Statement) (*Result, error) {
	tag, err := c.conn.Exec(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	return &Result{RowsAffected: tag.RowsAffected()}, nil
}

// IsFatal is true once pgx has closed the connection, or when the server
// reported a FATAL or PANIC severity.
func (c *pgxConn) IsFatal(err error) bool {
	if c.raw.IsClosed() {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		sev := pgErr.SeverityUnlocalized
		if sev == "" {
			sev = pgErr.Severity
		}
		return sev == "FATAL" || sev == "PANIC"
	}
	return false
}

func (c *pgxConn) Release() { c.conn.Release() }

// Destroy takes the connection away from the pool and closes it.
func (c *pgxConn) Destroy() {
	raw := c.conn.Hijack()
	ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
	defer cancel()
	_ = raw.Close(ctx)
}

// collectRows drains rows into a Result keyed by column name.
func collectRows(rows pgx.Rows) (*Result, error) {
	fds := rows.FieldDescriptions()
	fields := make([]Field, len(fds))
	for i, fd := range fds {
		fields[i] = Field{Name: fd.Name}
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (map[string]any, error) {
		values, err := row.Values()
		if err != nil {
			return nil, err
		}
		cols := row.FieldDescriptions()
		m := make(map[string]any, len(values))
		for i, v := range values {
			m[cols[i].Name] = v
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{Rows: out, Fields: fields}, nil
}
