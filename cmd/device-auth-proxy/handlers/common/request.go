package common

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wrale/device-auth-proxy/internal/token"
	"github.com/wrale/device-auth-proxy/internal/validation"
)

// MaxBodyBytes bounds every JSON request body
const MaxBodyBytes = 16 << 10

// DecodeJSON reads a single JSON object from the request body into v
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		msg := "must be a JSON object"
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			msg = fmt.Sprintf("must not exceed %d bytes", MaxBodyBytes)
		case errors.Is(err, io.EOF):
			msg = "must not be empty"
		}
		return &validation.ValidationError{Field: "body", Message: msg}
	}
	if dec.More() {
		return &validation.ValidationError{Field: "body", Message: "must contain a single JSON object"}
	}
	return nil
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying the authenticated device
func WithIdentity(ctx context.Context, id *token.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the authenticated device, if any
func IdentityFrom(ctx context.Context) (*token.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*token.Identity)
	return id, ok && id != nil
}
