// Package device serves the authenticated device's own record
package device

import (
	"context"
	"net/http"
	"time"

	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/common"
	"github.com/wrale/device-auth-proxy/internal/registry"
)

// Registry is the registry surface used by the device endpoints
type Registry interface {
	Lookup(ctx context.Context, id string) (*registry.Device, error)
	RotateSecret(ctx context.Context, id string) (*registry.Device, string, error)
}

// MeResponse is the device record as shown to its owner
type MeResponse struct {
	DeviceID     string     `json:"device_id"`
	Revoked      bool       `json:"revoked"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	registry.Metadata
}

// RotateResponse carries the replacement secret
type RotateResponse struct {
	DeviceID string `json:"device_id"`
	Secret   string `json:"secret"`
}

// Handler serves the device endpoints. Both routes must run behind
// guard.RequireDevice.
type Handler struct {
	registry Registry
	resp     common.Responder
}

// Config contains handler configuration options
type Config struct {
	Registry Registry
	Reporter common.Reporter
}

// New creates the device endpoints
func New(cfg Config) *Handler {
	return &Handler{
		registry: cfg.Registry,
		resp:     common.Responder{Component: "registry", Reporter: cfg.Reporter},
	}
}

// Me returns the caller's device record without its secret
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok {
		h.resp.Fail(w, r, common.ErrUnauthenticated)
		return
	}

	device, err := h.registry.Lookup(r.Context(), id.DeviceID)
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	resp := MeResponse{
		DeviceID:     device.ID,
		Revoked:      device.Revoked,
		RegisteredAt: device.RegisteredAt,
		Metadata:     device.Metadata,
	}
	if !device.LastSeenAt.IsZero() {
		resp.LastSeenAt = &device.LastSeenAt
	}
	common.WriteJSON(w, http.StatusOK, resp)
}

// Rotate replaces the caller's secret. Every token issued before the rotation,
// including the one used for this call, stops working.
func (h *Handler) Rotate(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok {
		h.resp.Fail(w, r, common.ErrUnauthenticated)
		return
	}

	device, secret, err := h.registry.RotateSecret(r.Context(), id.DeviceID)
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	common.WriteJSON(w, http.StatusOK, RotateResponse{DeviceID: device.ID, Secret: secret})
}
