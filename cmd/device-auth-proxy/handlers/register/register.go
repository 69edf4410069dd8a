package register

import (
	"context"
	"net/http"
	"time"

	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/common"
	"github.com/wrale/device-auth-proxy/internal/registry"
	"github.com/wrale/device-auth-proxy/internal/validation"
)

// Registrar creates devices
type Registrar interface {
	Register(ctx context.Context, id string, meta registry.Metadata) (*registry.Device, string, error)
}

// Request is the registration body
type Request struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	AppVersion string `json:"app_version"`
	Region     string `json:"region"`
}

// Response carries the device secret. It is the only response that ever does.
type Response struct {
	DeviceID     string    `json:"device_id"`
	Secret       string    `json:"secret"`
	RegisteredAt time.Time `json:"registered_at"`
	registry.Metadata
}

// Handler processes device registration requests
type Handler struct {
	registry Registrar
	resp     common.Responder
}

// Config contains handler configuration options
type Config struct {
	Registry Registrar
	Reporter common.Reporter
}

// New creates a new registration handler
func New(cfg Config) *Handler {
	return &Handler{
		registry: cfg.Registry,
		resp:     common.Responder{Component: "registry", Reporter: cfg.Reporter},
	}
}

// ServeHTTP handles registration requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		common.WriteError(w, http.StatusMethodNotAllowed, common.KindInvalidRequest, "POST method required")
		return
	}

	var req Request
	if err := common.DecodeJSON(w, r, &req); err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	if err := validation.ValidateDeviceID(req.DeviceID); err != nil {
		h.resp.Fail(w, r, err)
		return
	}
	if err := validation.ValidateMetadata(req.DeviceType, req.AppVersion, req.Region); err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	meta := registry.Metadata{
		DeviceType: req.DeviceType,
		AppVersion: req.AppVersion,
		Region:     req.Region,
	}
	device, secret, err := h.registry.Register(r.Context(), req.DeviceID, meta)
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	common.WriteJSON(w, http.StatusCreated, Response{
		DeviceID:     device.ID,
		Secret:       secret,
		RegisteredAt: device.RegisteredAt,
		Metadata:     device.Metadata,
	})
}
