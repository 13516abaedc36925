package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// PredictionCache implements domain.PredictionCache using JSON values keyed
// by market. Intelligence reads hit this cache first so browsing stays fast
// while a synthesis run is in flight.
type PredictionCache struct {
	rdb *redis.Client
}

// NewPredictionCache creates a PredictionCache backed by the given Client.
func NewPredictionCache(c *Client) *PredictionCache {
	return &PredictionCache{rdb: c.Underlying()}
}

func predictionKey(marketID string) string {
	return "prediction:" + marketID
}

// Set stores the latest prediction for its market.
func (pc *PredictionCache) Set(ctx context.Context, result domain.PredictionResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("redis: marshal prediction %s: %w", result.MarketID, err)
	}
	if err := pc.rdb.Set(ctx, predictionKey(result.MarketID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set prediction %s: %w", result.MarketID, err)
	}
	return nil
}

// Get retrieves the cached prediction for a market. It returns
// domain.ErrNotFound on a cache miss.
func (pc *PredictionCache) Get(ctx context.Context, marketID string) (domain.PredictionResult, error) {
	data, err := pc.rdb.Get(ctx, predictionKey(marketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PredictionResult{}, domain.ErrNotFound
		}
		return domain.PredictionResult{}, fmt.Errorf("redis: get prediction %s: %w", marketID, err)
	}

	var result domain.PredictionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.PredictionResult{}, fmt.Errorf("redis: unmarshal prediction %s: %w", marketID, err)
	}
	return result, nil
}

// Invalidate drops the cached prediction for a market, forcing the next read
// through to the store. Called when a market resolves.
func (pc *PredictionCache) Invalidate(ctx context.Context, marketID string) error {
	if err := pc.rdb.Del(ctx, predictionKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate prediction %s: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PredictionCache = (*PredictionCache)(nil)
