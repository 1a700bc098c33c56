package rwpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// pool is one role-tagged connection pool. It wraps (does not embed) the
// driver pool and runs the acquire, release and new-connection hooks.
type pool struct {
	role Role
	m    *Manager
	drv  driverPool
}

func (p *pool) hooks() connHooks {
	return connHooks{registry: p.m.registry, connected: p.connected, closed: p.closed}
}

func (p *pool) connected(key connKey, threadID uint32) {
	p.m.registry.setRole(key, p.role)
	p.m.registry.setPool(key, p)
	p.m.log.Silly("new connection", zap.Uint32("thread_id", threadID), zap.Stringer("role", p.role))
}

func (p *pool) closed(key connKey) {
	p.m.registry.forget(key)
}

func (p *pool) acquire(ctx context.Context) (*Conn, error) {
	if st := p.drv.Stat(); st.exhausted() {
		p.m.log.Warn("no free connection, request queued",
			zap.Stringer("role", p.role),
			zap.Int32("in_use", st.InUse),
			zap.Int32("max", st.Max),
		)
		p.m.metrics.exhausted.WithLabelValues(string(p.role)).Inc()
	}

	dc, err := p.drv.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	key := dc.key()
	if _, ok := p.m.registry.role(key); !ok {
		// The driver's connect hook was replaced through a config modifier.
		key = dc.track(p.m.registry)
		p.connected(key, dc.ThreadID())
	}

	c := &Conn{dc: dc, pool: p}
	threadID := dc.ThreadID()
	warnAfter := p.m.cfg.HeldConnectionWarning
	p.m.registry.setTimer(key, time.AfterFunc(warnAfter, func() {
		p.m.log.Warn("connection held too long",
			zap.Uint32("thread_id", threadID),
			zap.Stringer("role", p.role),
			zap.String("held", p.m.cfg.FormatDuration(warnAfter)),
		)
		p.m.metrics.heldTooLong.WithLabelValues(string(p.role)).Inc()
	}))
	return c, nil
}

// release returns c to the driver pool. An open transaction is rolled back
// first; a connection whose rollback fails is destroyed instead.
func (p *pool) release(c *Conn) {
	key := c.dc.key()
	p.m.registry.stopTimer(key)

	if tx, open := p.m.registry.transaction(key); open {
		fields := []zap.Field{
			zap.Uint32("thread_id", c.dc.ThreadID()),
			zap.Stringer("role", p.role),
			zap.Stringer("transaction", tx),
		}
		p.m.log.Error("connection released with an open transaction, rolling back", fields...)
		p.m.metrics.forcedRollbacks.WithLabelValues(string(p.role)).Inc()

		ctx, cancel := context.WithTimeout(context.Background(), defaultRollbackTimeout)
		_, err := c.dc.Exec(ctx, Statement{SQL: "rollback"})
		cancel()
		p.m.registry.endTransaction(key)
		if err != nil {
			p.m.log.Error("forced rollback failed, destroying connection", append(fields, zap.Error(err))...)
			p.destroy(c)
			return
		}
	}

	c.dc.Release()
}

// destroy closes c instead of returning it. A transaction still registered
// is dropped: the server aborts it when the session ends.
func (p *pool) destroy(c *Conn) {
	key := c.dc.key()
	p.m.registry.stopTimer(key)

	if tx, open := p.m.registry.transaction(key); open {
		p.m.log.Error("destroying connection with an open transaction",
			zap.Uint32("thread_id", c.dc.ThreadID()),
			zap.Stringer("role", p.role),
			zap.Stringer("transaction", tx),
		)
		p.m.registry.endTransaction(key)
	}

	c.dc.Destroy()
	p.m.registry.forget(key)
	p.m.metrics.destroyed.WithLabelValues(string(p.role)).Inc()
}

// close drains the driver pool. The wait is bounded by ctx; the driver keeps
// closing in the background when ctx expires first.
func (p *pool) close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- p.drv.Close(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrReleased is returned when a Conn is used after Release, commit or
// rollback handed it back to its pool.
var ErrReleased = errors.New("rwpool: connection already released")

// Conn is a connection checked out of one of the Manager's pools. It must be
// used by one goroutine at a time.
type Conn struct {
	dc   driverConn
	pool *pool

	mu   sync.Mutex
	done bool
}

// ThreadID is the server-side id of the session (the Postgres backend PID),
// or a process-local sequence number for MySQL.
func (c *Conn) ThreadID() uint32 { return c.dc.ThreadID() }

// Role returns the role registered for the connection, or "" if none was
// assigned.
func (c *Conn) Role() Role {
	role, _ := c.pool.m.registry.role(c.dc.key())
	return role
}

// Transaction reports the type of the open transaction, if any.
func (c *Conn) Transaction() (TxType, bool) {
	if c.isDone() {
		return 0, false
	}
	return c.pool.m.registry.transaction(c.dc.key())
}

// Release hands the connection back to its pool, rolling back a transaction
// left open. It is safe to call Release more than once.
func (c *Conn) Release() {
	if c.finish() {
		c.pool.release(c)
	}
}

func (c *Conn) destroy() {
	if c.finish() {
		c.pool.destroy(c)
	}
}

func (c *Conn) finish() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	c.done = true
	return true
}

func (c *Conn) isDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}
