package token

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wrale/device-auth-proxy/internal/logctx"
	"github.com/wrale/device-auth-proxy/internal/registry"
)

// Devices is the registry surface the issuer needs
type Devices interface {
	Lookup(ctx context.Context, id string) (*registry.Device, error)
	AdvanceSequence(ctx context.Context, id string) (uint64, error)
	CompareAndAdvanceSequence(ctx context.Context, id string, expected uint64) (uint64, error)
	Touch(ctx context.Context, id string) error
}

// Issuer mints token pairs. Each issuance advances the device sequence, so
// only the most recent refresh token of a device can be redeemed.
type Issuer struct {
	codec
	devices Devices
}

// NewIssuer creates a token issuer
func NewIssuer(keys *Keyring, devices Devices, opts ...Option) *Issuer {
	return &Issuer{
		codec:   codec{keys: keys, settings: newSettings(opts)},
		devices: devices,
	}
}

// Issue mints a new pair for a device that just authenticated
func (i *Issuer) Issue(ctx context.Context, device *registry.Device) (*Pair, error) {
	seq, err := i.devices.AdvanceSequence(ctx, device.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing tokens: %w", err)
	}

	pair, err := i.pair(device.ID, seq, device.Generation)
	if err != nil {
		return nil, err
	}

	i.touch(ctx, device.ID)
	logctx.From(ctx).Info("token_issued",
		slog.String("device_id", device.ID),
		slog.String("grant", "hmac"),
		slog.Uint64("seq", seq),
	)
	return pair, nil
}

// Refresh redeems a refresh token for a new pair. A refresh token can be
// redeemed once; reuse fails with registry.ErrStaleSequence.
func (i *Issuer) Refresh(ctx context.Context, raw string) (*Pair, error) {
	claims, err := i.parse(raw, TypeRefresh)
	if err != nil {
		return nil, err
	}

	device, err := checkDevice(ctx, i.devices.Lookup, claims)
	if err != nil {
		return nil, err
	}

	seq, err := i.devices.CompareAndAdvanceSequence(ctx, device.ID, claims.Sequence)
	if err != nil {
		return nil, fmt.Errorf("refreshing tokens: %w", err)
	}

	pair, err := i.pair(device.ID, seq, device.Generation)
	if err != nil {
		return nil, err
	}

	i.touch(ctx, device.ID)
	logctx.From(ctx).Info("token_issued",
		slog.String("device_id", device.ID),
		slog.String("grant", "refresh_token"),
		slog.Uint64("seq", seq),
	)
	return pair, nil
}

func (i *Issuer) touch(ctx context.Context, id string) {
	if err := i.devices.Touch(ctx, id); err != nil {
		logctx.From(ctx).Warn("device_touch_failed",
			slog.String("device_id", id),
			slog.String("err", err.Error()),
		)
	}
}
