package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]SubjectMetrics
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]SubjectMetrics)}
}

func (c *MemoryCache) Get(_ context.Context, subject string) (SubjectMetrics, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.entries[subject]
	if ok {
		m.CountByStage = maps.Clone(m.CountByStage)
	}
	return m, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, m SubjectMetrics) error {
	m.CountByStage = maps.Clone(m.CountByStage)
	c.mu.Lock()
	c.entries[m.SubjectID] = m
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Reset(context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]SubjectMetrics)
	c.mu.Unlock()
	return nil
}

const redisKeyPrefix = "salesview:metrics:"

// RedisCache shares aggregates between API replicas through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache backed by Redis. Entries expire after ttl;
// a zero ttl keeps them until Reset.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb, ttl: ttl}
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, subject string) (SubjectMetrics, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+subject).Bytes()
	if errors.Is(err, redis.Nil) {
		return SubjectMetrics{}, false, nil
	}
	if err != nil {
		return SubjectMetrics{}, false, fmt.Errorf("redis get metrics %s: %w", subject, err)
	}
	var m SubjectMetrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return SubjectMetrics{}, false, fmt.Errorf("decode metrics %s: %w", subject, err)
	}
	return m, true, nil
}

func (c *RedisCache) Set(ctx context.Context, m SubjectMetrics) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode metrics %s: %w", m.SubjectID, err)
	}
	return c.client.Set(ctx, redisKeyPrefix+m.SubjectID, raw, c.ttl).Err()
}

func (c *RedisCache) Reset(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan metrics keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
