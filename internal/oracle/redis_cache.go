package oracle

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"solsniper/internal/logger"
	"solsniper/internal/types"
)

// RedisCache is a Redis-backed snapshot store with the shape of Cache (spec
// §6.2 DOMAIN STACK), for an oracle view shared across processes. The
// sniffer pipeline does not read it; each instance's volume estimation uses
// its own in-process Cache. Grounded on the
// teacher's internal/eventbus/redis_adapter.go connection/ping pattern.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisCache connects to redisURL and verifies reachability with a
// short-lived ping, matching the teacher's NewRedisEventBus validation
// step.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration, log *logger.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("oracle: invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("oracle: redis connection failed: %w", err)
	}

	if log != nil {
		log.Info("oracle redis cache connected", "url", redisURL)
	}

	return &RedisCache{client: client, ttl: ttl, log: log}, nil
}

func redisKey(mint types.Mint) string {
	return "oracle:price:" + hex.EncodeToString(mint[:])
}

// Get returns the shared snapshot for mint, or false on a cache miss or
// Redis error — callers treat either as "no data" per spec §4.B.6.
func (c *RedisCache) Get(ctx context.Context, mint types.Mint) (Snapshot, bool) {
	val, err := c.client.Get(ctx, redisKey(mint)).Result()
	if err != nil {
		return Snapshot{}, false
	}
	price, err := decimal.NewFromString(val)
	if err != nil {
		return Snapshot{}, false
	}
	return Snapshot{SOLPerUnit: price, Timestamp: time.Now()}, true
}

// Set publishes a fresh snapshot with the cache's configured TTL.
func (c *RedisCache) Set(ctx context.Context, mint types.Mint, solPerUnit decimal.Decimal) error {
	return c.client.Set(ctx, redisKey(mint), solPerUnit.String(), c.ttl).Err()
}

// EstimateVolume mirrors Cache.EstimateVolume against the distributed
// store, returning 0 on any miss or error.
func (c *RedisCache) EstimateVolume(ctx context.Context, mint types.Mint, nominalAmount decimal.Decimal) float64 {
	snap, ok := c.Get(ctx, mint)
	if !ok {
		return 0
	}
	vol, _ := nominalAmount.Mul(snap.SOLPerUnit).Float64()
	return vol
}

// Close closes the underlying Redis client.
func (c *RedisCache) Close() error { return c.client.Close() }
