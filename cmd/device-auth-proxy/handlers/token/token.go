package token

import (
	"context"
	"net/http"

	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/common"
	"github.com/wrale/device-auth-proxy/internal/hmacauth"
	"github.com/wrale/device-auth-proxy/internal/registry"
	"github.com/wrale/device-auth-proxy/internal/token"
)

// Validator authenticates signed envelopes
type Validator interface {
	Validate(ctx context.Context, env *hmacauth.Envelope) (*registry.Device, error)
}

// Issuer mints token pairs
type Issuer interface {
	Issue(ctx context.Context, device *registry.Device) (*token.Pair, error)
}

// Reporter counts issued tokens and failures
type Reporter interface {
	common.Reporter
	IncTokensIssued(grant string)
}

// Handler exchanges a signed envelope for a token pair
type Handler struct {
	validator Validator
	issuer    Issuer
	reporter  Reporter
	resp      common.Responder
}

// Config contains handler configuration options
type Config struct {
	Validator Validator
	Issuer    Issuer
	Reporter  Reporter
}

// New creates a new token request handler
func New(cfg Config) *Handler {
	return &Handler{
		validator: cfg.Validator,
		issuer:    cfg.Issuer,
		reporter:  cfg.Reporter,
		resp:      common.Responder{Component: "auth", Reporter: cfg.Reporter},
	}
}

// ServeHTTP handles token requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		common.WriteError(w, http.StatusMethodNotAllowed, common.KindInvalidRequest, "POST method required")
		return
	}

	var env hmacauth.Envelope
	if err := common.DecodeJSON(w, r, &env); err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	device, err := h.validator.Validate(r.Context(), &env)
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	pair, err := h.issuer.Issue(r.Context(), device)
	if err != nil {
		h.resp.Fail(w, r, err)
		return
	}

	if h.reporter != nil {
		h.reporter.IncTokensIssued("hmac")
	}
	common.WriteJSON(w, http.StatusOK, pair)
}
