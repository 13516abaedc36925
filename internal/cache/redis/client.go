// Package redis implements the domain cache, lock, rate-limit, and signal-bus
// interfaces on go-redis/v9. One Client is shared by the prediction cache, the
// per-market trade/resolve locks, the API rate limiter, and the pub/sub bus.
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
	TLSEnabled bool // managed Redis endpoints usually require TLS
}

// Client wraps a go-redis Client shared by this package's implementations.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection with a ping. Locks and
// rate limiting sit on the trading path, so failing fast at startup beats
// discovering a bad address on the first trade.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the raw *redis.Client to the sibling implementations
// (cache, lock, limiter, bus) that need driver-level commands.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
