package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token,
// so one holder can never release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends a lock's TTL only while the caller still holds it.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL and
// token-checked refresh and release.
type LockManager struct {
	rdb       *redis.Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:       c.Underlying(),
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for ttl. It returns domain.ErrLockHeld if another
// party holds it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}
	return &lease{lm: lm, key: lk, token: token, ttl: ttl}, nil
}

type lease struct {
	lm    *LockManager
	key   string
	token string
	ttl   time.Duration
	once  sync.Once
}

// Refresh extends the lease by its TTL. It returns domain.ErrLockHeld when
// the lease has expired and been taken or deleted.
func (l *lease) Refresh(ctx context.Context) error {
	n, err := l.lm.refreshSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: lock %s lost: %w", l.key, domain.ErrLockHeld)
	}
	return nil
}

// Release frees the lock. It is safe to call more than once and uses its own
// context so it works after the caller's context is cancelled.
func (l *lease) Release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.unlockSc.Run(ctx, l.lm.rdb, []string{l.key}, l.token).Err()
	})
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
