package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// WriterLockKey is the lock guarding the single event log writer.
const WriterLockKey = "eventlog:writer"

// HoldLease refreshes lease every ttl/3 until ctx is cancelled, then releases
// it. It returns an error as soon as a refresh fails, since another writer
// may then own the log.
func HoldLease(ctx context.Context, lease domain.Lease, ttl time.Duration, logger *slog.Logger) error {
	defer lease.Release()

	every := ttl / 3
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := lease.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error("writer lease lost", slog.String("error", err.Error()))
				return fmt.Errorf("feed: writer lease: %w", err)
			}
		}
	}
}
