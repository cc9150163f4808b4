package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// MidCache implements domain.MidCache with one hash per asset at
// "mid:{assetID}" holding mid, market_id and ts (unix milliseconds).
type MidCache struct {
	rdb *redis.Client
}

// NewMidCache creates a MidCache backed by the given Client.
func NewMidCache(c *Client) *MidCache {
	return &MidCache{rdb: c.Underlying()}
}

func midKey(assetID string) string {
	return "mid:" + assetID
}

// SetMid stores the latest mid for an asset.
func (mc *MidCache) SetMid(ctx context.Context, m domain.LastMid) error {
	if err := mc.rdb.HSet(ctx, midKey(m.AssetID), midFields(m)).Err(); err != nil {
		return fmt.Errorf("redis: set mid %s: %w", m.AssetID, err)
	}
	return nil
}

// GetMid returns the latest mid, or domain.ErrNotFound.
func (mc *MidCache) GetMid(ctx context.Context, assetID string) (domain.LastMid, error) {
	vals, err := mc.rdb.HGetAll(ctx, midKey(assetID)).Result()
	if err != nil {
		return domain.LastMid{}, fmt.Errorf("redis: get mid %s: %w", assetID, err)
	}
	return parseMid(assetID, vals)
}

func midFields(m domain.LastMid) map[string]any {
	return map[string]any{
		"mid":       strconv.FormatFloat(m.Mid, 'f', -1, 64),
		"market_id": m.MarketID,
		"ts":        strconv.FormatInt(m.UpdatedAt.UnixMilli(), 10),
	}
}

func parseMid(assetID string, vals map[string]string) (domain.LastMid, error) {
	midStr, ok := vals["mid"]
	if !ok {
		return domain.LastMid{}, fmt.Errorf("redis: mid %s: %w", assetID, domain.ErrNotFound)
	}
	mid, err := strconv.ParseFloat(midStr, 64)
	if err != nil {
		return domain.LastMid{}, fmt.Errorf("redis: parse mid %s: %w", assetID, err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.LastMid{}, fmt.Errorf("redis: parse mid ts %s: %w", assetID, err)
	}
	return domain.LastMid{
		MarketID:  vals["market_id"],
		AssetID:   assetID,
		Mid:       mid,
		UpdatedAt: time.UnixMilli(ts).UTC(),
	}, nil
}

// Compile-time interface check.
var _ domain.MidCache = (*MidCache)(nil)
