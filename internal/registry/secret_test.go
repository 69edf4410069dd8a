package registry

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

var testMasterKey = bytes.Repeat([]byte("k"), MinMasterKeySize)

func TestNewSecretDeriver(t *testing.T) {
	_, err := NewSecretDeriver([]byte("short"))
	require.Error(t, err)

	_, err = NewSecretDeriver(testMasterKey)
	require.NoError(t, err)
}

func TestSecretDerivation(t *testing.T) {
	d, err := NewSecretDeriver(testMasterKey)
	require.NoError(t, err)

	salt, err := NewSalt()
	require.NoError(t, err)
	require.Len(t, salt, SaltSize)

	s1, err := d.Secret("dev-1", salt)
	require.NoError(t, err)
	s2, err := d.Secret("dev-1", salt)
	require.NoError(t, err)
	require.Equal(t, s1, s2, "derivation must be deterministic")

	raw, err := base64.RawURLEncoding.DecodeString(s1)
	require.NoError(t, err)
	require.Len(t, raw, SecretSize)

	other, err := d.Secret("dev-2", salt)
	require.NoError(t, err)
	require.NotEqual(t, s1, other, "device ID is bound into the secret")

	salt2, err := NewSalt()
	require.NoError(t, err)
	rotated, err := d.Secret("dev-1", salt2)
	require.NoError(t, err)
	require.NotEqual(t, s1, rotated)

	d2, err := NewSecretDeriver(bytes.Repeat([]byte("x"), MinMasterKeySize))
	require.NoError(t, err)
	foreign, err := d2.Secret("dev-1", salt)
	require.NoError(t, err)
	require.NotEqual(t, s1, foreign, "master key is bound into the secret")

	_, err = d.Secret("dev-1", nil)
	require.Error(t, err)
}
