package admin

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/common"
	"github.com/wrale/device-auth-proxy/internal/validation"
)

// Revoker revokes devices
type Revoker interface {
	Revoke(ctx context.Context, id string) error
}

// Handler processes operator revocation requests. It must run behind
// guard.RequireAdminKey and be mounted on a path with an {id} parameter.
type Handler struct {
	registry Revoker
	resp     common.Responder
}

// Config contains handler configuration options
type Config struct {
	Registry Revoker
	Reporter common.Reporter
}

// New creates a new revocation handler
func New(cfg Config) *Handler {
	return &Handler{
		registry: cfg.Registry,
		resp:     common.Responder{Component: "registry", Reporter: cfg.Reporter},
	}
}

// ServeHTTP handles revocation requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateDeviceID(id); err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	if err := h.registry.Revoke(r.Context(), id); err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}
