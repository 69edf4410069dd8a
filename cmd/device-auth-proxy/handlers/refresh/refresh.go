package refresh

import (
	"context"
	"net/http"
	"strings"

	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/common"
	"github.com/wrale/device-auth-proxy/internal/token"
	"github.com/wrale/device-auth-proxy/internal/validation"
)

// Refresher redeems refresh tokens
type Refresher interface {
	Refresh(ctx context.Context, raw string) (*token.Pair, error)
}

// Reporter counts issued tokens and failures
type Reporter interface {
	common.Reporter
	IncTokensIssued(grant string)
}

// Request is the refresh body
type Request struct {
	RefreshToken string `json:"refresh_token"`
}

// Handler exchanges a refresh token for a new pair
type Handler struct {
	issuer   Refresher
	reporter Reporter
	resp     common.Responder
}

// Config contains handler configuration options
type Config struct {
	Issuer   Refresher
	Reporter Reporter
}

// New creates a new refresh handler
func New(cfg Config) *Handler {
	return &Handler{
		issuer:   cfg.Issuer,
		reporter: cfg.Reporter,
		resp:     common.Responder{Component: "auth", Reporter: cfg.Reporter},
	}
}

// ServeHTTP handles refresh requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := common.DecodeJSON(w, r, &req); err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		h.resp.Fail(w, r, &validation.ValidationError{Field: "refresh_token", Message: "is required"})
		return
	}

	pair, err := h.issuer.Refresh(r.Context(), raw)
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	if h.reporter != nil {
		h.reporter.IncTokensIssued("refresh_token")
	}
	common.WriteJSON(w, http.StatusOK, pair)
}
