package rwpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/vango-go/vango-rwpool"

// Option configures Connect for advanced use cases.
type Option func(*connectOptions)

type connectOptions struct {
	pgxConfigModifier   func(Role, *pgxpool.Config)
	mysqlConfigModifier func(Role, *mysql.Config)
}

// WithPgxConfig allows low-level pgxpool configuration per role.
//
// The modifier runs after the rwpool configuration is applied.
func WithPgxConfig(fn func(Role, *pgxpool.Config)) Option {
	return func(o *connectOptions) {
		o.pgxConfigModifier = fn
	}
}

// WithMySQLConfig allows low-level go-sql-driver configuration per role.
//
// The modifier runs after the rwpool configuration is applied.
func WithMySQLConfig(fn func(Role, *mysql.Config)) Option {
	return func(o *connectOptions) {
		o.mysqlConfigModifier = fn
	}
}

// Manager owns the primary and replica pools for its whole lifetime.
type Manager struct {
	cfg      Config
	log      Logger
	registry *registry
	metrics  *metrics
	tracer   trace.Tracer

	primary *pool
	replica *pool

	closed atomic.Bool
}

var _ DB = (*Manager)(nil)

func newManager(cfg Config) (*Manager, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	m := &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		registry: newRegistry(),
		metrics:  newMetrics(),
		tracer:   tp.Tracer(instrumentationName),
	}
	m.primary = &pool{role: RolePrimary, m: m}
	m.replica = &pool{role: RoleReplica, m: m}
	return m, nil
}

// exportMetrics registers the Manager's metrics on Config.Registerer, if set.
func (m *Manager) exportMetrics() error {
	if m.cfg.Registerer == nil {
		return nil
	}
	if err := m.metrics.register(m.cfg.Registerer, m.primary, m.replica); err != nil {
		return fmt.Errorf("rwpool: register metrics: %w", err)
	}
	return nil
}

// Connect opens the primary and replica pools and verifies both with a ping.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Manager, error) {
	m, err := newManager(cfg)
	if err != nil {
		return nil, err
	}

	if m.cfg.Primary.isZero() {
		return nil, errors.New("rwpool: Primary.ConnectionString or Primary.Host is required")
	}

	open, ok := openerFor(m.cfg.Driver)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, m.cfg.Driver)
	}

	var o connectOptions
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&o)
	}

	primary, err := open(ctx, RolePrimary, m.cfg.Primary, m.primary.hooks(), &o)
	if err != nil {
		return nil, err
	}
	replica, err := open(ctx, RoleReplica, m.cfg.Replica, m.replica.hooks(), &o)
	if err != nil {
		_ = primary.Close(ctx)
		return nil, err
	}
	m.primary.drv = primary
	m.replica.drv = replica

	if err := m.exportMetrics(); err != nil {
		_ = multierr.Combine(primary.Close(ctx), replica.Close(ctx))
		return nil, err
	}

	m.log.Info("connection pools ready",
		zap.String("driver", m.cfg.Driver),
		zap.String("primary", primary.URL()),
		zap.String("replica", replica.URL()),
	)
	return m, nil
}

func (m *Manager) poolFor(role Role) *pool {
	if role == RoleReplica {
		return m.replica
	}
	return m.primary
}

// Stat returns a snapshot of the pool serving role.
func (m *Manager) Stat(role Role) PoolStat {
	return m.poolFor(role).drv.Stat()
}

// Shutdown closes both pools concurrently and waits for each to drain its
// checked-out connections. Both pools are always closed; the returned error
// combines every failure. Calling Shutdown again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.metrics.unregister()

	pools := []*pool{m.primary, m.replica}
	errs := make([]error, len(pools))

	var g errgroup.Group
	for i, p := range pools {
		g.Go(func() error {
			if err := p.close(ctx); err != nil {
				errs[i] = fmt.Errorf("rwpool: close %s pool: %w", p.role, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := multierr.Combine(errs...)
	if err != nil {
		m.log.Error("shutdown failed", zap.Error(err))
		return err
	}
	m.log.Info("connection pools closed")
	return nil
}
