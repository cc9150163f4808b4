package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// seedLua raises a counter to ARGV[1] if it is lower and returns the result.
const seedLua = `
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local want = tonumber(ARGV[1])
if want > cur then
    redis.call('SET', KEYS[1], want)
    return want
end
return cur
`

// Sequencer implements domain.Sequencer with one INCR counter per asset at
// "seq:{assetID}".
type Sequencer struct {
	rdb    *redis.Client
	seedSc *redis.Script
}

// NewSequencer creates a Sequencer backed by the given Client.
func NewSequencer(c *Client) *Sequencer {
	return &Sequencer{
		rdb:    c.Underlying(),
		seedSc: redis.NewScript(seedLua),
	}
}

func seqKey(assetID string) string {
	return "seq:" + assetID
}

// Next returns the asset's next sequence.
func (s *Sequencer) Next(ctx context.Context, assetID string) (int64, error) {
	n, err := s.rdb.Incr(ctx, seqKey(assetID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: next sequence %s: %w", assetID, err)
	}
	return n, nil
}

// Seed raises the counter to at least last, never lowering it.
func (s *Sequencer) Seed(ctx context.Context, assetID string, last int64) error {
	if err := s.seedSc.Run(ctx, s.rdb, []string{seqKey(assetID)}, last).Err(); err != nil {
		return fmt.Errorf("redis: seed sequence %s: %w", assetID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.Sequencer = (*Sequencer)(nil)
