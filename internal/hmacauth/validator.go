package hmacauth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wrale/device-auth-proxy/internal/backend"
	"github.com/wrale/device-auth-proxy/internal/logctx"
	"github.com/wrale/device-auth-proxy/internal/registry"
	"github.com/wrale/device-auth-proxy/internal/validation"
)

// DefaultSkew is the accepted clock difference between device and server
const DefaultSkew = 120 * time.Second

// nonceSlack keeps a nonce past the last instant its timestamp is accepted
const nonceSlack = time.Second

// DeviceSource resolves a device and its HMAC key
type DeviceSource interface {
	Lookup(ctx context.Context, id string) (*registry.Device, error)
	SigningKey(d *registry.Device) ([]byte, error)
}

// Validator checks signed request envelopes
type Validator struct {
	devices  DeviceSource
	nonces   NonceStore
	skew     time.Duration
	timeout  time.Duration
	now      func() time.Time
	dummyKey []byte
}

// Option configures a Validator
type Option func(*Validator)

// WithSkew sets the allowed clock drift. Nonces are kept for the same duration.
func WithSkew(d time.Duration) Option {
	return func(v *Validator) {
		v.skew = d
	}
}

// WithTimeout bounds nonce store calls
func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		v.timeout = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a request validator
func NewValidator(devices DeviceSource, nonces NonceStore, opts ...Option) (*Validator, error) {
	v := &Validator{
		devices: devices,
		nonces:  nonces,
		skew:    DefaultSkew,
		timeout: backend.DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.skew <= 0 {
		return nil, fmt.Errorf("skew must be positive, got %s", v.skew)
	}

	v.dummyKey = make([]byte, registry.SecretSize)
	if _, err := rand.Read(v.dummyKey); err != nil {
		return nil, fmt.Errorf("generating dummy key: %w", err)
	}
	return v, nil
}

// Validate authenticates an envelope and returns the signing device. A given
// (device, nonce) pair is accepted at most once while its timestamp is fresh.
func (v *Validator) Validate(ctx context.Context, env *Envelope) (*registry.Device, error) {
	ts, err := checkFields(env)
	if err != nil {
		return nil, err
	}

	device, err := v.devices.Lookup(ctx, env.DeviceID)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return nil, err
	}

	// Unknown devices still pay for one HMAC
	key := v.dummyKey
	if device != nil {
		if key, err = v.devices.SigningKey(device); err != nil {
			return nil, err
		}
	}

	given, _ := base64.StdEncoding.DecodeString(env.Signature)
	match := hmac.Equal(mac(key, env.Canonical()), given)

	log := logctx.From(ctx).With(slog.String("device_id", env.DeviceID))
	switch {
	case device == nil:
		log.Info("hmac_rejected", slog.String("reason", "unknown_device"))
		return nil, ErrUnknownDevice
	case !match:
		log.Info("hmac_rejected", slog.String("reason", "signature_mismatch"))
		return nil, ErrSignatureMismatch
	case device.Revoked:
		log.Info("hmac_rejected", slog.String("reason", "revoked"))
		return nil, registry.ErrRevoked
	}

	drift := v.now().Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > v.skew {
		log.Info("hmac_rejected", slog.String("reason", "stale"), slog.Duration("drift", drift))
		return nil, ErrStaleRequest
	}

	// The nonce record must outlive the timestamp, which may lie up to skew ahead
	ttl := time.Unix(ts, 0).Add(v.skew).Sub(v.now()) + nonceSlack

	var fresh bool
	err = backend.Call(ctx, v.timeout, func(ctx context.Context) error {
		var err error
		fresh, err = v.nonces.Claim(ctx, env.DeviceID, env.Nonce, ttl)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claiming nonce: %w", err)
	}
	if !fresh {
		log.Warn("hmac_rejected", slog.String("reason", "replay"))
		return nil, ErrReplay
	}

	return device, nil
}

func checkFields(env *Envelope) (int64, error) {
	if env == nil {
		return 0, fmt.Errorf("%w: empty envelope", ErrMalformed)
	}
	if err := validation.ValidateDeviceID(env.DeviceID); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := validation.ValidateNonce(env.Nonce); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := validation.ValidateSignature(env.Signature); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ts, err := validation.ParseTimestamp(env.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return ts, nil
}
