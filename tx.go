package rwpool

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultRollbackTimeout = 5 * time.Second

func beginStatement(t TxType) Statement {
	if t == ReadWrite {
		return Statement{SQL: "start transaction read write"}
	}
	return Statement{SQL: "start transaction read only"}
}

// StartTransaction checks out a connection for t (replica for ReadOnly,
// primary for ReadWrite) and opens a transaction on it. The caller owns the
// returned connection until CommitTransaction or RollbackTransaction
// succeeds, and must run the transaction's statements with Conn.Execute.
func (m *Manager) StartTransaction(ctx context.Context, t TxType) (*Conn, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	ctx, span := m.tracer.Start(ctx, "rwpool.StartTransaction", trace.WithAttributes(
		attribute.String("db.transaction.type", t.String()),
	))
	defer span.End()

	c, err := m.poolFor(t.role()).acquire(ctx)
	if err != nil {
		m.log.Warn("failed to acquire connection for transaction", zap.Stringer("transaction", t), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire failed")
		return nil, err
	}

	fields := []zap.Field{
		zap.Uint32("thread_id", c.ThreadID()),
		zap.Stringer("role", c.Role()),
		zap.Stringer("transaction", t),
	}

	if _, err := c.dc.Exec(ctx, beginStatement(t)); err != nil {
		m.log.Error("start transaction failed", append(fields, zap.Error(err))...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "start transaction failed")
		if c.dc.IsFatal(err) {
			c.destroy()
		} else {
			c.Release()
		}
		return nil, err
	}

	m.registry.beginTransaction(c.dc.key(), t)
	m.log.Debug("transaction started", fields...)
	return c, nil
}

// CommitTransaction commits the transaction open on c and releases c.
//
// On failure the transaction stays registered and c stays checked out, so
// the caller can retry or roll back. A fatal error destroys c instead.
func (m *Manager) CommitTransaction(ctx context.Context, c *Conn) error {
	return m.endTransaction(ctx, c, "commit")
}

// RollbackTransaction rolls back the transaction open on c and releases c.
// Failures are handled as in CommitTransaction.
func (m *Manager) RollbackTransaction(ctx context.Context, c *Conn) error {
	return m.endTransaction(ctx, c, "rollback")
}

func (m *Manager) endTransaction(ctx context.Context, c *Conn, verb string) error {
	if c == nil {
		return ErrNoTransaction
	}
	t, open := c.Transaction()
	if !open {
		return ErrNoTransaction
	}

	ctx, span := m.tracer.Start(ctx, "rwpool."+verb, trace.WithAttributes(
		attribute.String("db.transaction.type", t.String()),
		attribute.String("db.rwpool.role", string(c.pool.role)),
	))
	defer span.End()

	fields := []zap.Field{
		zap.Uint32("thread_id", c.ThreadID()),
		zap.Stringer("role", c.Role()),
		zap.Stringer("transaction", t),
	}

	if _, err := c.dc.Exec(ctx, Statement{SQL: verb}); err != nil {
		m.log.Error(verb+" failed", append(fields, zap.Error(err))...)
		span.RecordError(err)
		span.SetStatus(codes.Error, verb+" failed")
		if c.dc.IsFatal(err) {
			c.destroy()
		}
		return err
	}

	m.registry.endTransaction(c.dc.key())
	m.log.Debug("transaction ended", append(fields, zap.String("outcome", verb))...)
	c.Release()
	return nil
}

// WithTx executes fn within a transaction of type t. If fn returns an error or
// panics, the transaction is rolled back. Otherwise, it is committed.
//
// fn may end the transaction itself with CommitTransaction or
// RollbackTransaction; WithTx then returns fn's result without committing.
// A connection whose rollback fails is destroyed rather than returned to its
// pool.
func (m *Manager) WithTx(ctx context.Context, t TxType, fn func(*Conn) error) (err error) {
	c, err := m.StartTransaction(ctx, t)
	if err != nil {
		return err
	}

	rollback := func() {
		rollbackCtx, cancel := context.WithTimeout(context.Background(), defaultRollbackTimeout)
		defer cancel()
		if rbErr := m.RollbackTransaction(rollbackCtx, c); rbErr != nil {
			c.destroy()
		}
	}

	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
		if err != nil {
			rollback()
		}
	}()

	if err = fn(c); err != nil {
		return err
	}
	if _, open := c.Transaction(); !open {
		return nil
	}
	return m.CommitTransaction(ctx, c)
}
