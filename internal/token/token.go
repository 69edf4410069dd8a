// Package token issues, refreshes and verifies device JWTs
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wrale/device-auth-proxy/internal/registry"
)

// Token types carried in the typ claim
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Defaults
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultIssuer     = "device-auth-proxy"
	DefaultAudience   = "device-api"

	leeway = 5 * time.Second
)

// Claims are the JWT claims of both token types
type Claims struct {
	Type       string `json:"typ"`
	Sequence   uint64 `json:"seq"`
	Generation uint64 `json:"gen"`
	jwt.RegisteredClaims
}

// Pair is the token response returned to a device
type Pair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// Identity is the authenticated device behind an access token
type Identity struct {
	DeviceID   string
	Sequence   uint64
	Generation uint64
	TokenID    string
	ExpiresAt  time.Time
}

type settings struct {
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures an Issuer or Verifier
type Option func(*settings)

// WithIssuer sets the iss claim
func WithIssuer(iss string) Option {
	return func(s *settings) {
		s.issuer = iss
	}
}

// WithAudience sets the aud claim
func WithAudience(aud string) Option {
	return func(s *settings) {
		s.audience = aud
	}
}

// WithAccessTTL sets the access token lifetime
func WithAccessTTL(d time.Duration) Option {
	return func(s *settings) {
		s.accessTTL = d
	}
}

// WithRefreshTTL sets the refresh token lifetime
func WithRefreshTTL(d time.Duration) Option {
	return func(s *settings) {
		s.refreshTTL = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		issuer:     DefaultIssuer,
		audience:   DefaultAudience,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// codec signs and parses tokens with a keyring
type codec struct {
	keys *Keyring
	settings
}

func (c *codec) sign(typ, deviceID string, seq, gen uint64, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Type:       typ,
		Sequence:   seq,
		Generation: gen,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   deviceID,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = c.keys.current.ID

	signed, err := t.SignedString(c.keys.current.Secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", typ, err)
	}
	return signed, nil
}

func (c *codec) pair(deviceID string, seq, gen uint64) (*Pair, error) {
	now := c.now()

	access, err := c.sign(TypeAccess, deviceID, seq, gen, now, c.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := c.sign(TypeRefresh, deviceID, seq, gen, now, c.refreshTTL)
	if err != nil {
		return nil, err
	}

	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(c.accessTTL.Seconds()),
		RefreshExpiresIn: int64(c.refreshTTL.Seconds()),
	}, nil
}

func (c *codec) parse(raw, typ string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(raw, &Claims{},
		func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			secret, ok := c.keys.lookup(kid)
			if !ok {
				return nil, fmt.Errorf("unknown key id %q", kid)
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(leeway),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	claims, ok := t.Claims.(*Claims)
	if !ok || !t.Valid || claims.Subject == "" {
		return nil, ErrInvalidSignature
	}
	if claims.Type != typ {
		return nil, fmt.Errorf("%w: want %s token, got %q", ErrInvalidSignature, typ, claims.Type)
	}
	return claims, nil
}

// checkDevice resolves the token subject and rejects revoked or superseded devices
func checkDevice(ctx context.Context, lookup func(context.Context, string) (*registry.Device, error), claims *Claims) (*registry.Device, error) {
	device, err := lookup(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown subject", ErrInvalidSignature)
		}
		return nil, err
	}
	if device.Revoked {
		return nil, registry.ErrRevoked
	}
	if device.Generation != claims.Generation {
		return nil, ErrSuperseded
	}
	return device, nil
}
