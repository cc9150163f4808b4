// Package redis holds the Redis-backed collaborators: the last-mid cache,
// per-asset sequence allocation, the event-log writer lock, the API rate
// limiter and the live mid bus.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

func (cfg ClientConfig) options() *redis.Options {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: "predex",
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// Client is the connection shared by every collaborator in this package.
type Client struct {
	rdb  *redis.Client
	addr string
}

// New connects and pings. It fails if Redis is unreachable.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	c := &Client{rdb: redis.NewClient(cfg.options()), addr: cfg.Addr}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.addr, err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Underlying returns the go-redis client.
func (c *Client) Underlying() *redis.Client { return c.rdb }
