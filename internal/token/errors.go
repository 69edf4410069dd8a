package token

import "errors"

var (
	// ErrExpiredToken indicates the token is past its expiry
	ErrExpiredToken = errors.New("token expired")

	// ErrInvalidSignature indicates the token is malformed, signed with an
	// unknown key or of the wrong type
	ErrInvalidSignature = errors.New("invalid token")

	// ErrSuperseded indicates the device re-registered or rotated its secret
	// after the token was issued
	ErrSuperseded = errors.New("token superseded")
)
