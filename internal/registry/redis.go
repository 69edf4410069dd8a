package registry

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wrale/device-auth-proxy/internal/backend"
)

const devicePrefix = "device:"

// Script results shared by the conditional updates below
const (
	resultNotFound = -1
	resultRevoked  = -2
	resultStale    = -3
	resultConflict = -4
)

var (
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'salt', ARGV[1], 'gen', ARGV[2], 'seq', '0', 'revoked', '0',
  'registered_at', ARGV[3], 'device_type', ARGV[4], 'app_version', ARGV[5], 'region', ARGV[6])
return 1`)

	reactivateScript = redis.NewScript(`
local rev = redis.call('HGET', KEYS[1], 'revoked')
if not rev then return -1 end
if rev ~= '1' then return -4 end
redis.call('HSET', KEYS[1], 'salt', ARGV[1], 'revoked', '0', 'registered_at', ARGV[2],
  'device_type', ARGV[3], 'app_version', ARGV[4], 'region', ARGV[5])
redis.call('HINCRBY', KEYS[1], 'gen', 1)
return redis.call('HGETALL', KEYS[1])`)

	rotateScript = redis.NewScript(`
local rev = redis.call('HGET', KEYS[1], 'revoked')
if not rev then return -1 end
if rev == '1' then return -2 end
redis.call('HSET', KEYS[1], 'salt', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'gen', 1)
return redis.call('HGETALL', KEYS[1])`)

	revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('HSET', KEYS[1], 'revoked', '1')
return 1`)

	advanceScript = redis.NewScript(`
local rev = redis.call('HGET', KEYS[1], 'revoked')
if not rev then return -1 end
if rev == '1' then return -2 end
return redis.call('HINCRBY', KEYS[1], 'seq', 1)`)

	compareAndAdvanceScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'seq', 'revoked')
if not cur[1] then return -1 end
if cur[2] == '1' then return -2 end
if cur[1] ~= ARGV[1] then return -3 end
return redis.call('HINCRBY', KEYS[1], 'seq', 1)`)

	touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('HSET', KEYS[1], 'last_seen', ARGV[1])
return 1`)
)

// RedisStore implements the Store interface using Redis hashes. Every
// conditional update runs as a Lua script so it is atomic on the server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis-backed device store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// CheckHealth verifies Redis connectivity
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return backend.Unavailable("redis health check failed", err)
	}
	return nil
}

// Create stores a new device unless the ID is taken
func (s *RedisStore) Create(ctx context.Context, d *Device) error {
	res, err := createScript.Run(ctx, s.client, []string{devicePrefix + d.ID},
		base64.StdEncoding.EncodeToString(d.Salt),
		d.Generation,
		d.RegisteredAt.UnixNano(),
		d.DeviceType,
		d.AppVersion,
		d.Region,
	).Int64()
	if err != nil {
		return backend.Unavailable("creating device", err)
	}
	if res == 0 {
		return ErrConflict
	}
	return nil
}

// Get retrieves a device
func (s *RedisStore) Get(ctx context.Context, id string) (*Device, error) {
	fields, err := s.client.HGetAll(ctx, devicePrefix+id).Result()
	if err != nil {
		return nil, backend.Unavailable("getting device", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeDevice(id, fields)
}

// Reactivate re-registers a revoked device
func (s *RedisStore) Reactivate(ctx context.Context, id string, salt []byte, meta Metadata, now time.Time) (*Device, error) {
	return s.update(ctx, reactivateScript, "reactivating device", id,
		base64.StdEncoding.EncodeToString(salt),
		now.UnixNano(),
		meta.DeviceType,
		meta.AppVersion,
		meta.Region,
	)
}

// Rotate replaces the salt of an active device
func (s *RedisStore) Rotate(ctx context.Context, id string, salt []byte) (*Device, error) {
	return s.update(ctx, rotateScript, "rotating device secret", id,
		base64.StdEncoding.EncodeToString(salt),
	)
}

// update runs a script that either fails with a result code or returns the
// updated hash, so the caller sees exactly the state it wrote
func (s *RedisStore) update(ctx context.Context, script *redis.Script, op, id string, args ...any) (*Device, error) {
	res, err := script.Run(ctx, s.client, []string{devicePrefix + id}, args...).Result()
	if err != nil {
		return nil, backend.Unavailable(op, err)
	}

	switch v := res.(type) {
	case int64:
		if err := scriptError(v); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: unexpected result %d", op, v)
	case []any:
		if len(v)%2 != 0 {
			return nil, fmt.Errorf("%s: odd field count %d", op, len(v))
		}
		fields := make(map[string]string, len(v)/2)
		for i := 0; i < len(v); i += 2 {
			k, _ := v[i].(string)
			val, _ := v[i+1].(string)
			fields[k] = val
		}
		return decodeDevice(id, fields)
	}
	return nil, fmt.Errorf("%s: unexpected result type %T", op, res)
}

// Revoke marks a device revoked
func (s *RedisStore) Revoke(ctx context.Context, id string) error {
	res, err := revokeScript.Run(ctx, s.client, []string{devicePrefix + id}).Int64()
	if err != nil {
		return backend.Unavailable("revoking device", err)
	}
	return scriptError(res)
}

// AdvanceSequence increments the token sequence
func (s *RedisStore) AdvanceSequence(ctx context.Context, id string) (uint64, error) {
	res, err := advanceScript.Run(ctx, s.client, []string{devicePrefix + id}).Int64()
	if err != nil {
		return 0, backend.Unavailable("advancing sequence", err)
	}
	if err := scriptError(res); err != nil {
		return 0, err
	}
	return uint64(res), nil
}

// CompareAndAdvanceSequence increments the token sequence if it equals expected
func (s *RedisStore) CompareAndAdvanceSequence(ctx context.Context, id string, expected uint64) (uint64, error) {
	res, err := compareAndAdvanceScript.Run(ctx, s.client, []string{devicePrefix + id},
		strconv.FormatUint(expected, 10),
	).Int64()
	if err != nil {
		return 0, backend.Unavailable("advancing sequence", err)
	}
	if err := scriptError(res); err != nil {
		return 0, err
	}
	return uint64(res), nil
}

// Touch records the last time the device was seen
func (s *RedisStore) Touch(ctx context.Context, id string, now time.Time) error {
	res, err := touchScript.Run(ctx, s.client, []string{devicePrefix + id}, now.UnixNano()).Int64()
	if err != nil {
		return backend.Unavailable("touching device", err)
	}
	return scriptError(res)
}

func scriptError(res int64) error {
	switch res {
	case resultNotFound:
		return ErrNotFound
	case resultRevoked:
		return ErrRevoked
	case resultStale:
		return ErrStaleSequence
	case resultConflict:
		return ErrConflict
	}
	return nil
}

func decodeDevice(id string, fields map[string]string) (*Device, error) {
	salt, err := base64.StdEncoding.DecodeString(fields["salt"])
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}

	d := &Device{
		ID:      id,
		Salt:    salt,
		Revoked: fields["revoked"] == "1",
		Metadata: Metadata{
			DeviceType: fields["device_type"],
			AppVersion: fields["app_version"],
			Region:     fields["region"],
		},
	}

	if d.Generation, err = parseUint(fields, "gen"); err != nil {
		return nil, err
	}
	if d.Sequence, err = parseUint(fields, "seq"); err != nil {
		return nil, err
	}
	if d.RegisteredAt, err = parseUnixNano(fields, "registered_at"); err != nil {
		return nil, err
	}
	if d.LastSeenAt, err = parseUnixNano(fields, "last_seen"); err != nil {
		return nil, err
	}
	return d, nil
}

func parseUint(fields map[string]string, name string) (uint64, error) {
	v, err := strconv.ParseUint(fields[name], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decoding %s: %w", name, err)
	}
	return v, nil
}

func parseUnixNano(fields map[string]string, name string) (time.Time, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decoding %s: %w", name, err)
	}
	return time.Unix(0, v).UTC(), nil
}

var _ Store = (*RedisStore)(nil)
