package domain

import (
	"context"
	"iter"
	"time"
)

// EventLog is the append-only, time-ordered store of RawEvents.
//
// Read yields the events of one asset with start_ts <= ingest_ts <= end_ts,
// ascending by (ingest_ts, sequence), without gaps or duplicates. The range is
// fixed at call time: appends that land after the call, or beyond end_ts,
// never change what a closed horizon yields. At most one writer appends at a
// time; any number of readers may run concurrently.
type EventLog interface {
	Append(ctx context.Context, events []RawEvent) error
	Read(ctx context.Context, assetID string, startTS, endTS int64) iter.Seq2[RawEvent, error]
}

// EventStatter reports event log statistics.
type EventStatter interface {
	Stats(ctx context.Context) (EventStats, error)
}

// SequenceSource reports the highest sequence stored for an asset (0 if none).
type SequenceSource interface {
	LastSequence(ctx context.Context, assetID string) (int64, error)
}

// RunStore persists completed simulation runs. A stored run is immutable:
// Put of an existing run id returns ErrAlreadyExists, Get of an unknown id
// returns ErrNotFound.
//
// List returns at most limit runs of one asset, or of every asset when
// assetID is empty, newest first. Listed runs carry no fills.
type RunStore interface {
	Put(ctx context.Context, run *SimRun) error
	Get(ctx context.Context, runID string) (*SimRun, error)
	List(ctx context.Context, assetID string, limit int) ([]*SimRun, error)
}

// Sequencer allocates strictly increasing per-asset sequence numbers.
type Sequencer interface {
	Next(ctx context.Context, assetID string) (int64, error)
	// Seed raises the asset's counter to at least last.
	Seed(ctx context.Context, assetID string, last int64) error
}

// LastMid is the last known mid for an asset.
type LastMid struct {
	MarketID  string    `json:"market_id"`
	AssetID   string    `json:"asset_id"`
	Mid       float64   `json:"mid"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MidCache keeps the last known mid per asset.
type MidCache interface {
	SetMid(ctx context.Context, m LastMid) error
	GetMid(ctx context.Context, assetID string) (LastMid, error)
}

// Lease is a held distributed lock.
type Lease interface {
	Refresh(ctx context.Context) error
	Release()
}

// LockManager hands out exclusive leases. Acquire returns ErrLockHeld when
// another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus is a fire-and-forget pub/sub bus for live notifications.
// Subscribe accepts glob patterns such as "mid:*"; the returned channel is
// closed when ctx is cancelled.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// MidChannel is the bus channel carrying LastMid updates for an asset.
func MidChannel(assetID string) string {
	return "mid:" + assetID
}
