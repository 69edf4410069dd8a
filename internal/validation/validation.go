// Package validation provides field validation for device registration and signed envelopes
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Field limits
const (
	MinDeviceIDLength   = 4
	MaxDeviceIDLength   = 128
	MinNonceLength      = 16
	MaxNonceLength      = 64
	MaxSignatureLength  = 64
	MaxDeviceTypeLength = 200
	MaxAppVersionLength = 100
	MaxRegionLength     = 50
)

var (
	// Strict standard base64 with padding
	base64Regex = regexp.MustCompile(`^(?:[A-Za-z0-9+/]{4})*(?:[A-Za-z0-9+/]{2}==|[A-Za-z0-9+/]{3}=)?$`)

	// Printable ASCII without whitespace or the canonical separator
	identRegex = regexp.MustCompile(`^[\x21-\x2E\x30-\x7E]+$`)
)

// ValidationError represents a field validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ValidateDeviceID checks a client generated device identifier
func ValidateDeviceID(id string) error {
	if len(id) < MinDeviceIDLength || len(id) > MaxDeviceIDLength {
		return &ValidationError{
			Field:   "device_id",
			Message: fmt.Sprintf("length must be between %d and %d characters", MinDeviceIDLength, MaxDeviceIDLength),
		}
	}
	if !identRegex.MatchString(id) {
		return &ValidationError{
			Field:   "device_id",
			Message: "must be printable ASCII without whitespace or '/'",
		}
	}
	return nil
}

// ValidateNonce checks the single-use value of a signed envelope
func ValidateNonce(nonce string) error {
	if len(nonce) < MinNonceLength || len(nonce) > MaxNonceLength {
		return &ValidationError{
			Field:   "nonce",
			Message: fmt.Sprintf("length must be between %d and %d characters", MinNonceLength, MaxNonceLength),
		}
	}
	if !identRegex.MatchString(nonce) {
		return &ValidationError{
			Field:   "nonce",
			Message: "must be printable ASCII without whitespace or '/'",
		}
	}
	return nil
}

// ValidateSignature checks that sig is a standard base64 string of sane length
func ValidateSignature(sig string) error {
	if sig == "" || len(sig) > MaxSignatureLength || !base64Regex.MatchString(sig) {
		return &ValidationError{
			Field:   "hmac_hash",
			Message: "must be a standard base64 encoded HMAC",
		}
	}
	return nil
}

// ParseTimestamp parses Unix epoch seconds
func ParseTimestamp(ts string) (int64, error) {
	ts = strings.TrimSpace(ts)
	v, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || v <= 0 {
		return 0, &ValidationError{
			Field:   "timestamp",
			Message: "must be an integer number of seconds since the Unix epoch",
		}
	}
	return v, nil
}

// ValidateMetadata checks optional registration metadata lengths
func ValidateMetadata(deviceType, appVersion, region string) error {
	switch {
	case len(deviceType) > MaxDeviceTypeLength:
		return &ValidationError{Field: "device_type", Message: fmt.Sprintf("must be at most %d characters", MaxDeviceTypeLength)}
	case len(appVersion) > MaxAppVersionLength:
		return &ValidationError{Field: "app_version", Message: fmt.Sprintf("must be at most %d characters", MaxAppVersionLength)}
	case len(region) > MaxRegionLength:
		return &ValidationError{Field: "region", Message: fmt.Sprintf("must be at most %d characters", MaxRegionLength)}
	}
	return nil
}
