package hmacauth

import "errors"

var (
	// ErrMalformed indicates the envelope fields are missing or out of range
	ErrMalformed = errors.New("malformed signed request")

	// ErrUnknownDevice indicates the device ID is not registered
	ErrUnknownDevice = errors.New("unknown device")

	// ErrSignatureMismatch indicates the HMAC does not match the device secret
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrStaleRequest indicates the timestamp is outside the allowed drift
	ErrStaleRequest = errors.New("stale request")

	// ErrReplay indicates the nonce was already used inside the freshness window
	ErrReplay = errors.New("replay detected")
)
