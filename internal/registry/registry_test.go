package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wrale/device-auth-proxy/internal/backend"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, _ := newRedisStore(t)
	secrets, err := NewSecretDeriver(testMasterKey)
	require.NoError(t, err)
	return New(store, secrets, WithClock(func() time.Time { return testNow }))
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	device, secret, err := r.Register(ctx, "dev-1", Metadata{DeviceType: "sensor"})
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	require.Equal(t, "dev-1", device.ID)
	require.Equal(t, uint64(1), device.Generation)
	require.True(t, device.RegisteredAt.Equal(testNow))

	key, err := r.SigningKey(device)
	require.NoError(t, err)
	require.Equal(t, []byte(secret), key)

	// Lookup derives the same key from the stored salt
	found, err := r.Lookup(ctx, "dev-1")
	require.NoError(t, err)
	key, err = r.SigningKey(found)
	require.NoError(t, err)
	require.Equal(t, []byte(secret), key)

	_, _, err = r.Register(ctx, "dev-1", Metadata{})
	require.ErrorIs(t, err, ErrConflict)
}

func TestRegistry_ReRegisterAfterRevoke(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, oldSecret, err := r.Register(ctx, "dev-1", Metadata{})
	require.NoError(t, err)
	require.NoError(t, r.Revoke(ctx, "dev-1"))

	device, newSecret, err := r.Register(ctx, "dev-1", Metadata{AppVersion: "2.0"})
	require.NoError(t, err)
	require.NotEqual(t, oldSecret, newSecret)
	require.False(t, device.Revoked)
	require.Equal(t, uint64(2), device.Generation)
	require.Equal(t, "2.0", device.AppVersion)
}

func TestRegistry_RotateSecret(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, oldSecret, err := r.Register(ctx, "dev-1", Metadata{})
	require.NoError(t, err)

	device, newSecret, err := r.RotateSecret(ctx, "dev-1")
	require.NoError(t, err)
	require.NotEqual(t, oldSecret, newSecret)
	require.Equal(t, uint64(2), device.Generation)

	_, _, err = r.RotateSecret(ctx, "dev-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Lookup(context.Background(), "dev-missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_Sequence(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, _, err := r.Register(ctx, "dev-1", Metadata{})
	require.NoError(t, err)

	seq, err := r.AdvanceSequence(ctx, "dev-1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	seq, err = r.CompareAndAdvanceSequence(ctx, "dev-1", 1)
	require.NoError(t, err)
	require.Equal(t, uint64(2), seq)

	_, err = r.CompareAndAdvanceSequence(ctx, "dev-1", 1)
	require.ErrorIs(t, err, ErrStaleSequence)

	require.NoError(t, r.Touch(ctx, "dev-1"))
	device, err := r.Lookup(ctx, "dev-1")
	require.NoError(t, err)
	require.True(t, device.LastSeenAt.Equal(testNow))
}

// slowStore blocks every call until the context is done
type slowStore struct {
	Store
}

func (slowStore) Get(ctx context.Context, id string) (*Device, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowStore) CheckHealth(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestRegistry_StoreTimeout(t *testing.T) {
	secrets, err := NewSecretDeriver(testMasterKey)
	require.NoError(t, err)
	r := New(slowStore{}, secrets, WithTimeout(10*time.Millisecond))

	_, err = r.Lookup(context.Background(), "dev-1")
	require.ErrorIs(t, err, backend.ErrUnavailable)
	require.False(t, errors.Is(err, ErrNotFound))

	require.Error(t, r.CheckHealth(context.Background()))
}
