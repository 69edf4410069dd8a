package registry

import "errors"

var (
	// ErrNotFound indicates the device identifier is not registered
	ErrNotFound = errors.New("device not found")

	// ErrConflict indicates the identifier is already registered and active
	ErrConflict = errors.New("device already registered")

	// ErrRevoked indicates the device has been revoked
	ErrRevoked = errors.New("device revoked")

	// ErrStaleSequence indicates a compare-and-advance lost against a newer sequence
	ErrStaleSequence = errors.New("stale token sequence")
)
