package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wrale/device-auth-proxy/internal/token"
	"github.com/wrale/device-auth-proxy/internal/validation"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "object", body: `{"device_id":"dev-1"}`},
		{name: "empty", body: "", wantErr: true},
		{name: "not json", body: "device_id=dev-1", wantErr: true},
		{name: "two objects", body: `{"a":1}{"b":2}`, wantErr: true},
		{name: "too large", body: `{"a":"` + strings.Repeat("x", MaxBodyBytes) + `"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var v map[string]any
			err := DecodeJSON(httptest.NewRecorder(), req, &v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			var verr *validation.ValidationError
			if err != nil && !errors.As(err, &verr) {
				t.Errorf("DecodeJSON() error type = %T, want *validation.ValidationError", err)
			}
		})
	}
}

func TestIdentityContext(t *testing.T) {
	if _, ok := IdentityFrom(context.Background()); ok {
		t.Error("IdentityFrom() on empty context reported an identity")
	}

	ctx := WithIdentity(context.Background(), &token.Identity{DeviceID: "dev-1"})
	id, ok := IdentityFrom(ctx)
	if !ok || id.DeviceID != "dev-1" {
		t.Errorf("IdentityFrom() = %+v, %v", id, ok)
	}
}
