package hmacauth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrale/device-auth-proxy/internal/backend"
)

const noncePrefix = "nonce:"

// NonceStore records used nonces for the length of the freshness window
type NonceStore interface {
	// Claim atomically records the nonce and reports whether it was unused
	Claim(ctx context.Context, deviceID, nonce string, ttl time.Duration) (bool, error)

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}

// RedisNonceStore implements NonceStore with SET NX
type RedisNonceStore struct {
	client *redis.Client
}

// NewRedisNonceStore creates a new Redis-backed nonce store
func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

// Claim records the nonce unless it is already present
func (s *RedisNonceStore) Claim(ctx context.Context, deviceID, nonce string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, noncePrefix+deviceID+":"+nonce, 1, ttl).Result()
	if err != nil {
		return false, backend.Unavailable("claiming nonce", err)
	}
	return ok, nil
}

// CheckHealth verifies Redis connectivity
func (s *RedisNonceStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return backend.Unavailable("redis health check failed", err)
	}
	return nil
}

var _ NonceStore = (*RedisNonceStore)(nil)
