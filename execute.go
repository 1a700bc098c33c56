package rwpool

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// routeConnection checks out a replica connection for select queries and a
// primary connection for everything else.
func (m *Manager) routeConnection(ctx context.Context, q Query) (*Conn, error) {
	if q.Kind() == KindSelect {
		return m.replica.acquire(ctx)
	}
	return m.primary.acquire(ctx)
}

// Execute runs q on a connection from the pool matching its kind and releases
// the connection afterwards. Retryable errors are retried on the same
// connection; fatal errors destroy it.
func (m *Manager) Execute(ctx context.Context, q Query, params any) (*Result, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	ctx, span := m.tracer.Start(ctx, "rwpool.Execute", trace.WithAttributes(
		attribute.String("db.query.kind", q.Kind().String()),
		attribute.String("db.query.text", q.Template()),
	))
	defer span.End()

	c, err := m.routeConnection(ctx, q)
	if err != nil {
		m.log.Warn("failed to acquire connection",
			zap.Stringer("kind", q.Kind()),
			zap.String("query", q.Template()),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire failed")
		return nil, err
	}
	defer c.Release()

	span.SetAttributes(attribute.String("db.rwpool.role", string(c.pool.role)))
	res, err := c.run(ctx, q, params, m.cfg.Retries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
	}
	return res, err
}

// Execute runs q on this connection, bypassing routing. Use it for the
// statements of an explicit transaction. Statements inside a transaction are
// not retried.
func (c *Conn) Execute(ctx context.Context, q Query, params any) (*Result, error) {
	if c.isDone() {
		return nil, ErrReleased
	}
	retries := c.pool.m.cfg.Retries
	if _, open := c.Transaction(); open {
		retries = 1
	}
	return c.run(ctx, q, params, retries)
}

// run makes up to retries attempts of q. Each attempt runs with the budget
// remaining before it; the delay before the next one is Backoff(remaining).
func (c *Conn) run(ctx context.Context, q Query, params any, retries int) (*Result, error) {
	m := c.pool.m

	stmt, err := q.Compile(params)
	if err != nil {
		m.log.Warn("query compile failed", zap.String("query", q.Template()), zap.Error(err))
		return nil, err
	}

	base := []zap.Field{
		zap.String("request_id", uuid.NewString()),
		zap.Uint32("thread_id", c.dc.ThreadID()),
		zap.Stringer("role", c.Role()),
		zap.String("query", q.Template()),
	}
	fields := func(extra ...zap.Field) []zap.Field {
		return append(base[:len(base):len(base)], extra...)
	}

	for remaining := retries; ; remaining-- {
		m.log.Debug("query started", fields(zap.Int("remaining", remaining))...)

		start := time.Now()
		res, err := c.do(ctx, q.Kind(), stmt)
		elapsed := time.Since(start)
		m.metrics.observe(c.pool.role, q.Kind(), elapsed, err)

		if err == nil {
			m.log.Verbose("query completed", fields(zap.String("duration", m.cfg.FormatDuration(elapsed)))...)
			return res, nil
		}

		m.log.Warn("query failed", fields(
			zap.String("duration", m.cfg.FormatDuration(elapsed)),
			zap.Int("remaining", remaining-1),
			zap.Error(err),
		)...)

		if c.dc.IsFatal(err) {
			c.destroy()
			return nil, err
		}
		if !q.IsRetryable(err) || remaining <= 1 {
			return nil, err
		}

		delay := m.cfg.Backoff(remaining)
		m.metrics.retries.WithLabelValues(string(c.pool.role)).Inc()
		trace.SpanFromContext(ctx).AddEvent("retry", trace.WithAttributes(
			attribute.Int("remaining", remaining-1),
			attribute.String("delay", delay.String()),
		))
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Conn) do(ctx context.Context, kind QueryKind, stmt Statement) (*Result, error) {
	if kind == KindSelect {
		return c.dc.Query(ctx, stmt)
	}
	return c.dc.Exec(ctx, stmt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
