// Package hmacauth verifies HMAC signed device requests
package hmacauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope is the signed body a device sends to obtain tokens
type Envelope struct {
	DeviceID  string `json:"device_id"`
	Timestamp string `json:"timestamp"` // Unix seconds, accepted as JSON string or number
	Nonce     string `json:"nonce"`
	Signature string `json:"hmac_hash"`
	Payload   string `json:"payload,omitempty"`
}

// UnmarshalJSON accepts the timestamp either quoted or as a bare number
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type plain Envelope
	var raw struct {
		plain
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*e = Envelope(raw.plain)
	e.Timestamp = ""

	ts := bytes.TrimSpace(raw.Timestamp)
	switch {
	case len(ts) == 0 || string(ts) == "null":
	case ts[0] == '"':
		if err := json.Unmarshal(ts, &e.Timestamp); err != nil {
			return fmt.Errorf("decoding timestamp: %w", err)
		}
	default:
		var n json.Number
		if err := json.Unmarshal(ts, &n); err != nil {
			return fmt.Errorf("decoding timestamp: %w", err)
		}
		e.Timestamp = n.String()
	}
	return nil
}

// Canonical returns the string covered by the signature: device ID, timestamp
// and nonce joined by "/", followed by "/" and the hex SHA-256 of the payload
// when a payload is present.
func Canonical(deviceID, timestamp, nonce, payload string) string {
	var b strings.Builder
	b.WriteString(deviceID)
	b.WriteByte('/')
	b.WriteString(timestamp)
	b.WriteByte('/')
	b.WriteString(nonce)
	if payload != "" {
		sum := sha256.Sum256([]byte(payload))
		b.WriteByte('/')
		b.WriteString(hex.EncodeToString(sum[:]))
	}
	return b.String()
}

// Sign computes the standard base64 HMAC-SHA256 of the canonical string
func Sign(key []byte, canonical string) string {
	return base64.StdEncoding.EncodeToString(mac(key, canonical))
}

// Canonical returns the envelope's canonical string
func (e *Envelope) Canonical() string {
	return Canonical(e.DeviceID, e.Timestamp, e.Nonce, e.Payload)
}

func mac(key []byte, canonical string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(canonical))
	return h.Sum(nil)
}
