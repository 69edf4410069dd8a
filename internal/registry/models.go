package registry

import "time"

// Device is one registered client installation
type Device struct {
	ID           string    `json:"device_id"`
	Salt         []byte    `json:"-"` // Secret derivation salt; the secret itself is never stored
	Generation   uint64    `json:"-"` // Bumped on every (re)registration and secret rotation
	Sequence     uint64    `json:"-"` // Token issuance sequence, see AdvanceSequence
	Revoked      bool      `json:"revoked"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	Metadata
}

// Metadata is optional client supplied information about the installation
type Metadata struct {
	DeviceType string `json:"device_type,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	Region     string `json:"region,omitempty"`
}
