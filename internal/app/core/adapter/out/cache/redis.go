package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
)

const (
	keyPrefix  = "ledger:outcome:"
	defaultTTL = 24 * time.Hour
)

// Connect 用 URL (redis://) 或 host:port 建立 Redis 客戶端
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisOutcomeCache 已提交冪等結果的快取
// 只是加速重放，權威資料仍在 store
type RedisOutcomeCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisOutcomeCache(client *redis.Client, ttl time.Duration) *RedisOutcomeCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisOutcomeCache{client: client, ttl: ttl}
}

func (c *RedisOutcomeCache) Get(ctx context.Context, key string) (*domain.StoredOutcome, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out domain.StoredOutcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *RedisOutcomeCache) Put(ctx context.Context, outcome domain.StoredOutcome) error {
	raw, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+outcome.Key, raw, c.ttl).Err()
}

var _ usecase.OutcomeCache = (*RedisOutcomeCache)(nil)
