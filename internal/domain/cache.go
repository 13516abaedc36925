package domain

import (
	"context"
	"time"
)

// PredictionCache provides fast access to the latest prediction per market so
// intelligence reads never block on the forecasting pipeline.
type PredictionCache interface {
	Set(ctx context.Context, result PredictionResult, ttl time.Duration) error
	Get(ctx context.Context, marketID string) (PredictionResult, error)
	Invalidate(ctx context.Context, marketID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. Trade execution and resolution
// acquire a per-market lock so concurrent read-modify-writes of the liquidity
// pools serialize.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub messaging for trade, prediction, and arbitrage
// events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
