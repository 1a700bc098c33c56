package rwpool

import (
	"runtime"
	"sync"
	"weak"
)

// connKey identifies a physical driver connection without keeping it alive.
// It always holds a weak.Pointer to the driver's connection object.
type connKey any

type connMeta struct {
	role  Role
	pool  *pool
	tx    TxType
	inTx  bool
	timer heldTimer
}

// registry associates driver connections with their role, owning pool and
// open transaction. A missing entry means "nothing assigned yet".
type registry struct {
	mu      sync.Mutex
	entries map[connKey]*connMeta
}

func newRegistry() *registry {
	return &registry{entries: make(map[connKey]*connMeta)}
}

// track returns the key of c and arranges for its entry to be dropped once c
// is garbage collected.
func track[T any](r *registry, c *T) connKey {
	key := connKey(weak.Make(c))
	runtime.AddCleanup(c, r.forget, key)
	return key
}

// keyOf returns the key of an already tracked connection.
func keyOf[T any](c *T) connKey {
	return connKey(weak.Make(c))
}

func (r *registry) entry(key connKey) *connMeta {
	m, ok := r.entries[key]
	if !ok {
		m = &connMeta{}
		r.entries[key] = m
	}
	return m
}

// setRole assigns the role once. Later calls are ignored.
func (r *registry) setRole(key connKey, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.entry(key); m.role == "" {
		m.role = role
	}
}

func (r *registry) role(key connKey) (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[key]
	if !ok || m.role == "" {
		return "", false
	}
	return m.role, true
}

// setPool assigns the owning pool once. Later calls are ignored.
func (r *registry) setPool(key connKey, p *pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.entry(key); m.pool == nil {
		m.pool = p
	}
}

func (r *registry) pool(key connKey) (*pool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[key]
	if !ok || m.pool == nil {
		return nil, false
	}
	return m.pool, true
}

func (r *registry) beginTransaction(key connKey, t TxType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.entry(key)
	m.tx = t
	m.inTx = true
}

func (r *registry) endTransaction(key connKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.entries[key]; ok {
		m.inTx = false
	}
}

func (r *registry) transaction(key connKey) (TxType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[key]
	if !ok || !m.inTx {
		return 0, false
	}
	return m.tx, true
}

// setTimer stores the held-too-long timer of a checkout, stopping any timer
// left over from a previous one.
func (r *registry) setTimer(key connKey, t heldTimer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.entry(key)
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = t
}

func (r *registry) stopTimer(key connKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.entries[key]; ok && m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (r *registry) forget(key connKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.entries[key]; ok && m.timer != nil {
		m.timer.Stop()
	}
	delete(r.entries, key)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// heldTimer is the part of *time.Timer the registry needs.
type heldTimer interface {
	Stop() bool
}
