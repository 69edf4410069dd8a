// Package test provides mocks of the service interfaces used by the handlers
package test

import (
	"context"
	"errors"

	"github.com/wrale/device-auth-proxy/internal/hmacauth"
	"github.com/wrale/device-auth-proxy/internal/registry"
	"github.com/wrale/device-auth-proxy/internal/token"
)

var errNotMocked = errors.New("not implemented in mock")

// MockRegistry mocks the device registry operations
type MockRegistry struct {
	RegisterFunc     func(ctx context.Context, id string, meta registry.Metadata) (*registry.Device, string, error)
	LookupFunc       func(ctx context.Context, id string) (*registry.Device, error)
	RotateSecretFunc func(ctx context.Context, id string) (*registry.Device, string, error)
	RevokeFunc       func(ctx context.Context, id string) error
	CheckHealthFunc  func(ctx context.Context) error
}

// Register implements registration
func (m *MockRegistry) Register(ctx context.Context, id string, meta registry.Metadata) (*registry.Device, string, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, id, meta)
	}
	return nil, "", errNotMocked
}

// Lookup implements device lookup
func (m *MockRegistry) Lookup(ctx context.Context, id string) (*registry.Device, error) {
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, id)
	}
	return nil, errNotMocked
}

// RotateSecret implements secret rotation
func (m *MockRegistry) RotateSecret(ctx context.Context, id string) (*registry.Device, string, error) {
	if m.RotateSecretFunc != nil {
		return m.RotateSecretFunc(ctx, id)
	}
	return nil, "", errNotMocked
}

// Revoke implements revocation
func (m *MockRegistry) Revoke(ctx context.Context, id string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, id)
	}
	return errNotMocked
}

// CheckHealth implements the health check
func (m *MockRegistry) CheckHealth(ctx context.Context) error {
	if m.CheckHealthFunc != nil {
		return m.CheckHealthFunc(ctx)
	}
	return nil
}

// MockValidator mocks the signed request validator
type MockValidator struct {
	ValidateFunc func(ctx context.Context, env *hmacauth.Envelope) (*registry.Device, error)
}

// Validate implements envelope validation
func (m *MockValidator) Validate(ctx context.Context, env *hmacauth.Envelope) (*registry.Device, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, env)
	}
	return nil, errNotMocked
}

// MockIssuer mocks the token issuer
type MockIssuer struct {
	IssueFunc   func(ctx context.Context, device *registry.Device) (*token.Pair, error)
	RefreshFunc func(ctx context.Context, raw string) (*token.Pair, error)
}

// Issue implements token issuance
func (m *MockIssuer) Issue(ctx context.Context, device *registry.Device) (*token.Pair, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, device)
	}
	return nil, errNotMocked
}

// Refresh implements refresh token redemption
func (m *MockIssuer) Refresh(ctx context.Context, raw string) (*token.Pair, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, raw)
	}
	return nil, errNotMocked
}

// Pair returns a fixed token pair
func Pair() *token.Pair {
	return &token.Pair{
		AccessToken:      "access-123",
		RefreshToken:     "refresh-123",
		TokenType:        "Bearer",
		ExpiresIn:        900,
		RefreshExpiresIn: 2592000,
	}
}
