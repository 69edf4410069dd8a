package check

import (
	"net/http"
	"time"

	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/common"
)

// Response confirms the caller's access token
type Response struct {
	Authenticated bool      `json:"authenticated"`
	DeviceID      string    `json:"device_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Handler reports the identity behind a verified access token. It must run
// behind guard.RequireDevice.
type Handler struct {
	resp common.Responder
}

// New creates a new auth check handler
func New() *Handler {
	return &Handler{resp: common.Responder{Component: "auth"}}
}

// ServeHTTP handles auth check requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := common.IdentityFrom(r.Context())
	if !ok {
		h.resp.Fail(w, r, common.ErrUnauthenticated)
		return
	}

	common.WriteJSON(w, http.StatusOK, Response{
		Authenticated: true,
		DeviceID:      id.DeviceID,
		ExpiresAt:     id.ExpiresAt.UTC(),
	})
}
