package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// LockManager is an in-process domain.LockManager for single-node runs.
// Leases expire after their TTL unless refreshed.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]*lease
	now   func() time.Time
	token int64
}

// NewLockManager returns a LockManager with no held leases.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]*lease), now: time.Now}
}

func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.held[key]; ok && m.now().Before(cur.expires) {
		return nil, fmt.Errorf("memory: lock %s: %w", key, domain.ErrLockHeld)
	}
	m.token++
	l := &lease{m: m, key: key, token: m.token, ttl: ttl, expires: m.now().Add(ttl)}
	m.held[key] = l
	return l, nil
}

type lease struct {
	m       *LockManager
	key     string
	token   int64
	ttl     time.Duration
	expires time.Time
}

func (l *lease) Refresh(_ context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	cur, ok := l.m.held[l.key]
	if !ok || cur.token != l.token || !l.m.now().Before(cur.expires) {
		return fmt.Errorf("memory: lock %s lost: %w", l.key, domain.ErrLockHeld)
	}
	cur.expires = l.m.now().Add(l.ttl)
	return nil
}

func (l *lease) Release() {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if cur, ok := l.m.held[l.key]; ok && cur.token == l.token {
		delete(l.m.held, l.key)
	}
}

var _ domain.LockManager = (*LockManager)(nil)
