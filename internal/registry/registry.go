package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wrale/device-auth-proxy/internal/backend"
	"github.com/wrale/device-auth-proxy/internal/logctx"
)

// Registry manages device registration, revocation and secret rotation on top of a Store
type Registry struct {
	store   Store
	secrets *SecretDeriver
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithTimeout bounds every store call
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.timeout = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a device registry
func New(store Store, secrets *SecretDeriver, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		secrets: secrets,
		timeout: backend.DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a device and returns its secret. The secret is returned only
// here and from RotateSecret. Registering an active ID fails with ErrConflict;
// a revoked ID is reactivated with a fresh secret.
func (r *Registry) Register(ctx context.Context, id string, meta Metadata) (*Device, string, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, "", err
	}

	now := r.now().UTC()
	device := &Device{
		ID:           id,
		Salt:         salt,
		Generation:   1,
		RegisteredAt: now,
		Metadata:     meta,
	}

	err = backend.Call(ctx, r.timeout, func(ctx context.Context) error {
		return r.store.Create(ctx, device)
	})
	switch {
	case errors.Is(err, ErrConflict):
		err = backend.Call(ctx, r.timeout, func(ctx context.Context) error {
			var rerr error
			device, rerr = r.store.Reactivate(ctx, id, salt, meta, now)
			return rerr
		})
		if err != nil {
			return nil, "", fmt.Errorf("registering device: %w", err)
		}
		logctx.From(ctx).Info("device_reactivated", slog.String("device_id", id))
	case err != nil:
		return nil, "", fmt.Errorf("registering device: %w", err)
	default:
		logctx.From(ctx).Info("device_registered", slog.String("device_id", id))
	}

	secret, err := r.secrets.Secret(device.ID, device.Salt)
	if err != nil {
		return nil, "", err
	}
	return device, secret, nil
}

// Lookup retrieves a device, failing with ErrNotFound
func (r *Registry) Lookup(ctx context.Context, id string) (*Device, error) {
	var device *Device
	err := backend.Call(ctx, r.timeout, func(ctx context.Context) error {
		var err error
		device, err = r.store.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("looking up device: %w", err)
	}
	return device, nil
}

// Revoke marks a device revoked. Outstanding tokens fail verification afterwards.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	err := backend.Call(ctx, r.timeout, func(ctx context.Context) error {
		return r.store.Revoke(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("revoking device: %w", err)
	}
	logctx.From(ctx).Info("device_revoked", slog.String("device_id", id))
	return nil
}

// RotateSecret replaces the device secret. The old secret and every token
// issued before the rotation stop working immediately.
func (r *Registry) RotateSecret(ctx context.Context, id string) (*Device, string, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, "", err
	}

	var device *Device
	err = backend.Call(ctx, r.timeout, func(ctx context.Context) error {
		var err error
		device, err = r.store.Rotate(ctx, id, salt)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("rotating secret: %w", err)
	}

	secret, err := r.secrets.Secret(device.ID, device.Salt)
	if err != nil {
		return nil, "", err
	}
	logctx.From(ctx).Info("device_secret_rotated", slog.String("device_id", id))
	return device, secret, nil
}

// SigningKey returns the HMAC key shared with the device
func (r *Registry) SigningKey(d *Device) ([]byte, error) {
	secret, err := r.secrets.Secret(d.ID, d.Salt)
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

// AdvanceSequence increments the device's token sequence
func (r *Registry) AdvanceSequence(ctx context.Context, id string) (uint64, error) {
	var seq uint64
	err := backend.Call(ctx, r.timeout, func(ctx context.Context) error {
		var err error
		seq, err = r.store.AdvanceSequence(ctx, id)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("advancing sequence: %w", err)
	}
	return seq, nil
}

// CompareAndAdvanceSequence increments the sequence only if it equals expected
func (r *Registry) CompareAndAdvanceSequence(ctx context.Context, id string, expected uint64) (uint64, error) {
	var seq uint64
	err := backend.Call(ctx, r.timeout, func(ctx context.Context) error {
		var err error
		seq, err = r.store.CompareAndAdvanceSequence(ctx, id, expected)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("advancing sequence: %w", err)
	}
	return seq, nil
}

// Touch records device activity
func (r *Registry) Touch(ctx context.Context, id string) error {
	return backend.Call(ctx, r.timeout, func(ctx context.Context) error {
		return r.store.Touch(ctx, id, r.now().UTC())
	})
}

// CheckHealth verifies the registry's storage backend is healthy
func (r *Registry) CheckHealth(ctx context.Context) error {
	return backend.Call(ctx, r.timeout, r.store.CheckHealth)
}
