// Package cache keeps the latest risk metrics per merchant in Redis so that
// replicas and restarts can serve them without recomputing.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"merchantrisk/internal/config"
	"merchantrisk/internal/model"
)

const keyPrefix = "risk_metrics:latest:"

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(cfg config.CacheConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func latestKey(merchantID string) string {
	return keyPrefix + merchantID
}

// GetRiskMetrics reports ok=false on a cache miss.
func (c *RedisCache) GetRiskMetrics(ctx context.Context, merchantID string) (model.RiskMetrics, bool, error) {
	var rm model.RiskMetrics
	data, err := c.client.Get(ctx, latestKey(merchantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return rm, false, nil
		}
		return rm, false, fmt.Errorf("failed to get cached risk metrics: %w", err)
	}
	if err := json.Unmarshal(data, &rm); err != nil {
		return rm, false, fmt.Errorf("failed to unmarshal cached risk metrics: %w", err)
	}
	return rm, true, nil
}

func (c *RedisCache) SetRiskMetrics(ctx context.Context, rm model.RiskMetrics) error {
	if rm.MerchantID == "" {
		return errors.New("cannot cache risk metrics without merchant id")
	}
	data, err := json.Marshal(rm)
	if err != nil {
		return fmt.Errorf("failed to marshal risk metrics: %w", err)
	}
	return c.client.Set(ctx, latestKey(rm.MerchantID), data, c.ttl).Err()
}

// Flush removes every cached entry written by this service.
func (c *RedisCache) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
