package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrale/device-auth-proxy/internal/backend"
)

// Hit is one counter increment
type Hit struct {
	Key      string
	ExpireAt time.Time
}

// Counter increments window counters
type Counter interface {
	// Increment atomically increments every key and returns the new counts in order
	Increment(ctx context.Context, hits []Hit) ([]int64, error)

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}

// RedisCounter implements Counter with INCR and PEXPIREAT in one MULTI/EXEC
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter creates a new Redis-backed counter
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Increment bumps every counter in a single transaction
func (c *RedisCounter) Increment(ctx context.Context, hits []Hit) ([]int64, error) {
	pipe := c.client.TxPipeline()
	cmds := make([]*redis.IntCmd, len(hits))
	for i, h := range hits {
		cmds[i] = pipe.Incr(ctx, h.Key)
		pipe.PExpireAt(ctx, h.Key, h.ExpireAt)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, backend.Unavailable("incrementing rate counters", err)
	}

	counts := make([]int64, len(cmds))
	for i, cmd := range cmds {
		counts[i] = cmd.Val()
	}
	return counts, nil
}

// CheckHealth verifies Redis connectivity
func (c *RedisCounter) CheckHealth(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return backend.Unavailable("redis health check failed", err)
	}
	return nil
}

var _ Counter = (*RedisCounter)(nil)
