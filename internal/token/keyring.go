package token

import (
	"fmt"
	"strings"
)

// MinKeySize is the minimum HS256 signing key length in bytes
const MinKeySize = 32

// Key is a named HS256 signing key
type Key struct {
	ID     string
	Secret []byte
}

// Keyring holds the key that signs new tokens and the keys that still verify
// tokens signed before a server key rotation
type Keyring struct {
	current Key
	keys    map[string][]byte
}

// NewKeyring creates a keyring signing with current
func NewKeyring(current Key, previous ...Key) (*Keyring, error) {
	kr := &Keyring{
		current: current,
		keys:    make(map[string][]byte, len(previous)+1),
	}
	for _, k := range append([]Key{current}, previous...) {
		if k.ID == "" {
			return nil, fmt.Errorf("key id must not be empty")
		}
		if len(k.Secret) < MinKeySize {
			return nil, fmt.Errorf("key %q must be at least %d bytes", k.ID, MinKeySize)
		}
		if _, dup := kr.keys[k.ID]; dup {
			return nil, fmt.Errorf("duplicate key id %q", k.ID)
		}
		kr.keys[k.ID] = k.Secret
	}
	return kr, nil
}

// ParseKeys parses a comma separated list of kid:secret pairs
func ParseKeys(s string) ([]Key, error) {
	var keys []Key
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, secret, ok := strings.Cut(part, ":")
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("invalid key %q: want kid:secret", part)
		}
		keys = append(keys, Key{ID: id, Secret: []byte(secret)})
	}
	return keys, nil
}

func (kr *Keyring) lookup(id string) ([]byte, bool) {
	secret, ok := kr.keys[id]
	return secret, ok
}
