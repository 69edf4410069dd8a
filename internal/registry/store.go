// Package registry persists device records and derives their shared secrets
package registry

import (
	"context"
	"time"
)

// Store defines the interface for device persistence. Implementations must be
// safe for concurrent use and wrap transport failures in backend.ErrUnavailable.
type Store interface {
	// Create inserts a new device, failing with ErrConflict if the ID exists
	Create(ctx context.Context, d *Device) error

	// Get retrieves a device by ID, failing with ErrNotFound
	Get(ctx context.Context, id string) (*Device, error)

	// Reactivate clears the revocation flag of a revoked device, replaces its
	// salt and metadata and bumps its generation. Fails with ErrConflict if the
	// device is active.
	Reactivate(ctx context.Context, id string, salt []byte, meta Metadata, now time.Time) (*Device, error)

	// Rotate replaces the salt of an active device and bumps its generation.
	// Fails with ErrRevoked if the device is revoked.
	Rotate(ctx context.Context, id string, salt []byte) (*Device, error)

	// Revoke sets the revocation flag; revoking twice is not an error
	Revoke(ctx context.Context, id string) error

	// AdvanceSequence atomically increments the token sequence and returns it
	AdvanceSequence(ctx context.Context, id string) (uint64, error)

	// CompareAndAdvanceSequence increments the sequence only if it still equals
	// expected, failing with ErrStaleSequence otherwise
	CompareAndAdvanceSequence(ctx context.Context, id string, expected uint64) (uint64, error)

	// Touch records the last time the device was seen
	Touch(ctx context.Context, id string, now time.Time) error

	// CheckHealth verifies the storage backend is healthy
	CheckHealth(ctx context.Context) error
}
