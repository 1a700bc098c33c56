package rwpool

import "context"

// driverPool is the surface of an underlying driver pool the Manager needs.
type driverPool interface {
	Acquire(ctx context.Context) (driverConn, error)
	Stat() PoolStat
	// URL identifies the pool in health results. It never contains a password.
	URL() string
	Close(ctx context.Context) error
}

// driverConn is a single checked-out driver connection.
type driverConn interface {
	key() connKey
	// track keys the connection and drops its registry entry once the
	// connection is garbage collected.
	track(r *registry) connKey
	ThreadID() uint32
	Query(ctx context.Context, stmt Statement) (*Result, error)
	Exec(ctx context.Context, stmt Statement) (*Result, error)
	// IsFatal reports whether err left the connection unusable.
	IsFatal(err error) bool
	Release()
	Destroy()
}

// connHooks are installed on a driver pool by its owning core pool.
type connHooks struct {
	registry *registry
	// connected runs once per physical connection, after it is established.
	connected func(key connKey, threadID uint32)
	// closed runs when the driver closes a physical connection.
	closed func(key connKey)
}

// PoolStat is a point-in-time snapshot of a pool.
type PoolStat struct {
	Idle     int32
	InUse    int32
	Total    int32
	Max      int32
	Acquired int64
}

// exhausted reports whether an acquire would have to wait for a release.
func (s PoolStat) exhausted() bool {
	return s.Max > 0 && s.Idle == 0 && s.Total >= s.Max
}

type opener func(ctx context.Context, role Role, cfg PoolConfig, hooks connHooks, o *connectOptions) (driverPool, error)

func openerFor(driver string) (opener, bool) {
	switch driver {
	case DriverPostgres:
		return openPgx, true
	case DriverMySQL:
		return openMySQL, true
	}
	return nil, false
}
