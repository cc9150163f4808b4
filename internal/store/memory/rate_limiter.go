package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// RateLimiter is an in-process sliding-window domain.RateLimiter.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewRateLimiter returns a limiter with no recorded hits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

func (l *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)
	hits := l.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) >= limit {
		l.hits[key] = hits
		return false, nil
	}
	l.hits[key] = append(hits, now)
	return true, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
