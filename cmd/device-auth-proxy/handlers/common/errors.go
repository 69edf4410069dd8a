package common

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wrale/device-auth-proxy/internal/backend"
	"github.com/wrale/device-auth-proxy/internal/hmacauth"
	"github.com/wrale/device-auth-proxy/internal/logctx"
	"github.com/wrale/device-auth-proxy/internal/registry"
	"github.com/wrale/device-auth-proxy/internal/token"
	"github.com/wrale/device-auth-proxy/internal/validation"
)

// Error kinds returned in the error field
const (
	KindInvalidRequest        = "invalid_request"
	KindInvalidSignature      = "invalid_signature"
	KindStaleRequest          = "stale_request"
	KindReplayDetected        = "replay_detected"
	KindDeviceRevoked         = "device_revoked"
	KindTokenExpired          = "token_expired"
	KindInvalidToken          = "invalid_token"
	KindStaleSequence         = "stale_sequence"
	KindDeviceConflict        = "device_conflict"
	KindDeviceNotFound        = "device_not_found"
	KindRateLimited           = "rate_limited"
	KindDependencyUnavailable = "dependency_unavailable"
	KindServerError           = "server_error"
)

// ErrUnauthenticated indicates a protected route was called without valid credentials
var ErrUnauthenticated = errors.New("missing or invalid credentials")

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RetryAfter       int    `json:"retry_after,omitempty"`
}

// Failure is an error mapped onto the HTTP surface
type Failure struct {
	Status      int
	Kind        string
	Description string
}

// Classify maps an error from the service packages to status, kind and description
func Classify(err error) Failure {
	var verr *validation.ValidationError
	switch {
	case errors.As(err, &verr):
		return Failure{http.StatusBadRequest, KindInvalidRequest, verr.Error()}
	case errors.Is(err, hmacauth.ErrMalformed):
		return Failure{http.StatusBadRequest, KindInvalidRequest, err.Error()}
	case errors.Is(err, hmacauth.ErrUnknownDevice), errors.Is(err, hmacauth.ErrSignatureMismatch):
		return Failure{http.StatusUnauthorized, KindInvalidSignature, "The request signature is invalid"}
	case errors.Is(err, hmacauth.ErrStaleRequest):
		return Failure{http.StatusUnauthorized, KindStaleRequest, "The request timestamp is outside the allowed window"}
	case errors.Is(err, hmacauth.ErrReplay):
		return Failure{http.StatusUnauthorized, KindReplayDetected, "The request nonce was already used"}
	case errors.Is(err, registry.ErrRevoked):
		return Failure{http.StatusForbidden, KindDeviceRevoked, "The device has been revoked"}
	case errors.Is(err, token.ErrExpiredToken):
		return Failure{http.StatusUnauthorized, KindTokenExpired, "The token has expired"}
	case errors.Is(err, token.ErrInvalidSignature), errors.Is(err, token.ErrSuperseded), errors.Is(err, ErrUnauthenticated):
		return Failure{http.StatusUnauthorized, KindInvalidToken, "The token is invalid"}
	case errors.Is(err, registry.ErrStaleSequence):
		return Failure{http.StatusUnauthorized, KindStaleSequence, "The refresh token was already used"}
	case errors.Is(err, registry.ErrConflict):
		return Failure{http.StatusConflict, KindDeviceConflict, "The device is already registered"}
	case errors.Is(err, registry.ErrNotFound):
		return Failure{http.StatusNotFound, KindDeviceNotFound, "The device is not registered"}
	case errors.Is(err, backend.ErrUnavailable):
		return Failure{http.StatusServiceUnavailable, KindDependencyUnavailable, "A required service is temporarily unavailable"}
	}
	return Failure{http.StatusInternalServerError, KindServerError, "An unexpected error occurred processing the request"}
}

// Reporter counts failures; *metrics.Registry satisfies it
type Reporter interface {
	IncFailure(kind string)
	IncStoreUnavailable(component string)
}

// Responder writes failures for one component and reports them
type Responder struct {
	Component string
	Reporter  Reporter
}

// Fail classifies err, logs and counts it, and writes the error response
func (rs Responder) Fail(w http.ResponseWriter, r *http.Request, err error) {
	f := Classify(err)

	log := logctx.From(r.Context()).With(
		slog.String("component", rs.Component),
		slog.String("kind", f.Kind),
		slog.String("err", err.Error()),
	)
	switch {
	case f.Kind == KindDependencyUnavailable:
		log.Error("store_unavailable")
	case f.Status >= http.StatusInternalServerError:
		log.Error("request_failed")
	default:
		log.Info("request_rejected")
	}

	if rs.Reporter != nil {
		rs.Reporter.IncFailure(f.Kind)
		if f.Kind == KindDependencyUnavailable {
			rs.Reporter.IncStoreUnavailable(rs.Component)
		}
	}

	if f.Status == http.StatusUnauthorized && f.Kind == KindInvalidToken {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	WriteError(w, f.Status, f.Kind, f.Description)
}

// SetJSONHeaders sets the headers of every JSON response
func SetJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
}

// WriteJSON writes v with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	SetJSONHeaders(w)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent; nothing more can be done for the client
		return
	}
}

// WriteError sends a standardized error response
func WriteError(w http.ResponseWriter, status int, code string, description string) {
	WriteJSON(w, status, ErrorResponse{
		Error:            code,
		ErrorDescription: strings.TrimSpace(description),
	})
}

// WriteRetryError sends an error response carrying a retry hint in whole seconds,
// both as the Retry-After header and the retry_after field
func WriteRetryError(w http.ResponseWriter, status int, code string, description string, retryAfter time.Duration) {
	secs := int((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	WriteJSON(w, status, ErrorResponse{
		Error:            code,
		ErrorDescription: strings.TrimSpace(description),
		RetryAfter:       secs,
	})
}
