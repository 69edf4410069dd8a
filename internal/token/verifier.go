package token

import (
	"context"

	"github.com/wrale/device-auth-proxy/internal/registry"
)

// DeviceLookup resolves a device by ID
type DeviceLookup interface {
	Lookup(ctx context.Context, id string) (*registry.Device, error)
}

// Verifier authenticates access tokens. Revocation and re-registration take
// effect on the next request; the sequence is not consulted.
type Verifier struct {
	codec
	devices DeviceLookup
}

// NewVerifier creates an access token verifier
func NewVerifier(keys *Keyring, devices DeviceLookup, opts ...Option) *Verifier {
	return &Verifier{
		codec:   codec{keys: keys, settings: newSettings(opts)},
		devices: devices,
	}
}

// Verify checks an access token and returns the device it was issued to
func (v *Verifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	claims, err := v.parse(raw, TypeAccess)
	if err != nil {
		return nil, err
	}

	if _, err := checkDevice(ctx, v.devices.Lookup, claims); err != nil {
		return nil, err
	}

	return &Identity{
		DeviceID:   claims.Subject,
		Sequence:   claims.Sequence,
		Generation: claims.Generation,
		TokenID:    claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
