package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testStore runs the behaviour every Store implementation must share
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	newDevice := func(id string) *Device {
		return &Device{
			ID:           id,
			Salt:         []byte("0123456789abcdef0123456789abcdef"),
			Generation:   1,
			RegisteredAt: now,
			Metadata:     Metadata{DeviceType: "sensor", AppVersion: "1.2.0", Region: "eu"},
		}
	}

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, newDevice("dev-create")))

		got, err := s.Get(ctx, "dev-create")
		require.NoError(t, err)
		require.Equal(t, "dev-create", got.ID)
		require.Equal(t, []byte("0123456789abcdef0123456789abcdef"), got.Salt)
		require.Equal(t, uint64(1), got.Generation)
		require.Equal(t, uint64(0), got.Sequence)
		require.False(t, got.Revoked)
		require.True(t, got.RegisteredAt.Equal(now))
		require.True(t, got.LastSeenAt.IsZero())
		require.Equal(t, "sensor", got.DeviceType)
		require.Equal(t, "1.2.0", got.AppVersion)
		require.Equal(t, "eu", got.Region)
	})

	t.Run("create conflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, newDevice("dev-dup")))
		err := s.Create(ctx, newDevice("dev-dup"))
		require.ErrorIs(t, err, ErrConflict)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "dev-missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("revoke and reactivate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, newDevice("dev-rev")))

		_, err := s.Reactivate(ctx, "dev-rev", []byte("new-salt"), Metadata{}, now)
		require.ErrorIs(t, err, ErrConflict, "active device must not be reactivated")

		require.NoError(t, s.Revoke(ctx, "dev-rev"))
		require.NoError(t, s.Revoke(ctx, "dev-rev"), "revoking twice is not an error")

		got, err := s.Get(ctx, "dev-rev")
		require.NoError(t, err)
		require.True(t, got.Revoked)

		later := now.Add(time.Hour)
		got, err = s.Reactivate(ctx, "dev-rev", []byte("new-salt"), Metadata{DeviceType: "gateway"}, later)
		require.NoError(t, err)
		require.False(t, got.Revoked)
		require.Equal(t, []byte("new-salt"), got.Salt)
		require.Equal(t, uint64(2), got.Generation)
		require.Equal(t, "gateway", got.DeviceType)
		require.True(t, got.RegisteredAt.Equal(later))

		_, err = s.Reactivate(ctx, "dev-nope", []byte("salt"), Metadata{}, later)
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, s.Revoke(ctx, "dev-nope"), ErrNotFound)
	})

	t.Run("rotate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, newDevice("dev-rot")))

		got, err := s.Rotate(ctx, "dev-rot", []byte("rotated"))
		require.NoError(t, err)
		require.Equal(t, []byte("rotated"), got.Salt)
		require.Equal(t, uint64(2), got.Generation)

		require.NoError(t, s.Revoke(ctx, "dev-rot"))
		_, err = s.Rotate(ctx, "dev-rot", []byte("again"))
		require.ErrorIs(t, err, ErrRevoked)

		_, err = s.Rotate(ctx, "dev-nope", []byte("again"))
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("sequence", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, newDevice("dev-seq")))

		seq, err := s.AdvanceSequence(ctx, "dev-seq")
		require.NoError(t, err)
		require.Equal(t, uint64(1), seq)

		seq, err = s.CompareAndAdvanceSequence(ctx, "dev-seq", 1)
		require.NoError(t, err)
		require.Equal(t, uint64(2), seq)

		_, err = s.CompareAndAdvanceSequence(ctx, "dev-seq", 1)
		require.ErrorIs(t, err, ErrStaleSequence)

		_, err = s.AdvanceSequence(ctx, "dev-nope")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.CompareAndAdvanceSequence(ctx, "dev-nope", 0)
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Revoke(ctx, "dev-seq"))
		_, err = s.AdvanceSequence(ctx, "dev-seq")
		require.ErrorIs(t, err, ErrRevoked)
		_, err = s.CompareAndAdvanceSequence(ctx, "dev-seq", 2)
		require.ErrorIs(t, err, ErrRevoked)
	})

	t.Run("compare and advance has one winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, newDevice("dev-race")))
		_, err := s.AdvanceSequence(ctx, "dev-race")
		require.NoError(t, err)

		const workers = 16
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			wins   int
			stale  int
			others []error
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.CompareAndAdvanceSequence(ctx, "dev-race", 1)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrStaleSequence):
					stale++
				default:
					others = append(others, err)
				}
			}()
		}
		wg.Wait()

		require.Empty(t, others)
		require.Equal(t, 1, wins)
		require.Equal(t, workers-1, stale)
	})

	t.Run("touch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Create(ctx, newDevice("dev-touch")))
		seen := now.Add(5 * time.Minute)
		require.NoError(t, s.Touch(ctx, "dev-touch", seen))

		got, err := s.Get(ctx, "dev-touch")
		require.NoError(t, err)
		require.True(t, got.LastSeenAt.Equal(seen))

		require.ErrorIs(t, s.Touch(ctx, "dev-nope", seen), ErrNotFound)
	})

	t.Run("health", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CheckHealth(context.Background()))
	})
}
