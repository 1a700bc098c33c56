package rwpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// errFatal marks a driver error that leaves the connection unusable.
var errFatal = errors.New("fake: connection terminated")

// fakePool is an in-memory driverPool. Connections are created on demand and
// reported through the same hooks a real driver runs.
type fakePool struct {
	hooks connHooks
	url   string

	mu         sync.Mutex
	nextID     uint32
	idle       []*fakeConn
	inUse      int32
	max        int32
	all        []*fakeConn
	acquireErr error
	closeErr   error
	closeDelay time.Duration
	closeCalls int
	respond    func(c *fakeConn, stmt Statement) (*Result, error)
	// skipHooks acts like a driver whose connect hook was replaced.
	skipHooks bool
}

func newFakePool(hooks connHooks, url string) *fakePool {
	return &fakePool{hooks: hooks, url: url, max: 10}
}

func (p *fakePool) Acquire(ctx context.Context) (driverConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.acquireErr != nil {
		err := p.acquireErr
		p.mu.Unlock()
		return nil, err
	}
	var c *fakeConn
	if n := len(p.idle); n > 0 {
		c = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else {
		p.nextID++
		c = &fakeConn{pool: p, id: p.nextID}
		p.all = append(p.all, c)
	}
	p.inUse++
	created := c.k == nil
	if created && p.skipHooks {
		c.k = keyOf(c)
		created = false
	}
	if created {
		c.k = track(p.hooks.registry, c)
	}
	p.mu.Unlock()

	if created && p.hooks.connected != nil {
		p.hooks.connected(c.k, c.id)
	}
	return c, nil
}

func (p *fakePool) Stat() PoolStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStat{
		Idle:  int32(len(p.idle)),
		InUse: p.inUse,
		Total: int32(len(p.idle)) + p.inUse,
		Max:   p.max,
	}
}

func (p *fakePool) URL() string { return p.url }

func (p *fakePool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closeCalls++
	delay, err := p.closeDelay, p.closeErr
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *fakePool) closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// drop forgets every connection the pool has handed out.
func (p *fakePool) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle, p.all = nil, nil
}

func (p *fakePool) conn(i int) *fakeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.all[i]
}

func (p *fakePool) setRespond(fn func(c *fakeConn, stmt Statement) (*Result, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.respond = fn
}

// fakeConn records every statement it receives.
type fakeConn struct {
	pool *fakePool
	id   uint32
	k    connKey

	mu         sync.Mutex
	statements []string
	released   int
	destroyed  bool
}

func (c *fakeConn) key() connKey     { return c.k }

func (c *fakeConn) track(r *registry) connKey { return track(r, c) }
func (c *fakeConn) ThreadID() uint32 { return c.id }

func (c *fakeConn) Query(ctx context.Context, stmt Statement) (*Result, error) {
	return c.run(ctx, stmt)
}

func (c *fakeConn) Exec(ctx context.Context, stmt Statement) (*Result, error) {
	return c.run(ctx, stmt)
}

func (c *fakeConn) run(ctx context.Context, stmt Statement) (*Result, error) {
	c.mu.Lock()
	c.statements = append(c.statements, stmt.SQL)
	c.mu.Unlock()

	c.pool.mu.Lock()
	respond := c.pool.respond
	c.pool.mu.Unlock()

	if respond == nil {
		return &Result{}, nil
	}
	return respond(c, stmt)
}

func (c *fakeConn) IsFatal(err error) bool { return errors.Is(err, errFatal) }

func (c *fakeConn) Release() {
	c.mu.Lock()
	c.released++
	c.mu.Unlock()

	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	c.pool.inUse--
	c.pool.idle = append(c.pool.idle, c)
}

func (c *fakeConn) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()

	c.pool.mu.Lock()
	c.pool.inUse--
	c.pool.mu.Unlock()

	if c.pool.hooks.closed != nil {
		c.pool.hooks.closed(c.k)
	}
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.statements...)
}

func (c *fakeConn) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *fakeConn) releases() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

type testEnv struct {
	m       *Manager
	primary *fakePool
	replica *fakePool
	logs    *observer.ObservedLogs
	reg     *prometheus.Registry
}

// newTestEnv builds a Manager over fake pools. Backoff is zero unless a
// mutator sets it.
func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	core, logs := observer.New(SillyLevel)
	reg := prometheus.NewRegistry()
	cfg := Config{
		Logger:     NewZapLogger(zap.New(core)),
		Backoff:    func(int) time.Duration { return 0 },
		Registerer: reg,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	if r, ok := cfg.Registerer.(*prometheus.Registry); ok {
		reg = r
	}

	m, err := newManager(cfg)
	require.NoError(t, err)

	env := &testEnv{
		m:       m,
		primary: newFakePool(m.primary.hooks(), "fake://primary/db"),
		replica: newFakePool(m.replica.hooks(), "fake://replica/db"),
		logs:    logs,
		reg:     reg,
	}
	m.primary.drv = env.primary
	m.replica.drv = env.replica
	require.NoError(t, m.exportMetrics())
	return env
}

// messages returns every logged message in order.
func (e *testEnv) messages() []string {
	var out []string
	for _, entry := range e.logs.All() {
		out = append(out, entry.Message)
	}
	return out
}
