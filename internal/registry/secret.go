package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// SaltSize is the size of the per-device derivation salt in bytes
	SaltSize = 32

	// SecretSize is the size of a derived device secret in bytes before encoding
	SecretSize = 32

	// MinMasterKeySize is the minimum accepted master key length
	MinMasterKeySize = 32

	secretInfoPrefix = "device-secret:"
)

// SecretDeriver turns a stored salt into the device's shared secret. Only the
// salt is persisted, so a registry dump without the master key yields nothing usable.
type SecretDeriver struct {
	master []byte
}

// NewSecretDeriver creates a deriver from the server master key
func NewSecretDeriver(master []byte) (*SecretDeriver, error) {
	if len(master) < MinMasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes", MinMasterKeySize)
	}
	key := make([]byte, len(master))
	copy(key, master)
	return &SecretDeriver{master: key}, nil
}

// NewSalt generates a random derivation salt
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Secret returns the secret string handed to the device. Clients use its ASCII
// bytes as the HMAC key.
func (s *SecretDeriver) Secret(deviceID string, salt []byte) (string, error) {
	if len(salt) == 0 {
		return "", errors.New("empty salt")
	}
	r := hkdf.New(sha256.New, s.master, salt, []byte(secretInfoPrefix+deviceID))
	out := make([]byte, SecretSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", fmt.Errorf("deriving secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}
