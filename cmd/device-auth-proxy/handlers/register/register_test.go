package register

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/common"
	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/common/test"
	"github.com/wrale/device-auth-proxy/internal/registry"
)

func TestRegisterHandler(t *testing.T) {
	registeredAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		method     string
		body       string
		registerFn func(ctx context.Context, id string, meta registry.Metadata) (*registry.Device, string, error)
		wantStatus int
		wantError  string
		wantBody   *Response
	}{
		{
			name:       "wrong method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  common.KindInvalidRequest,
		},
		{
			name:       "invalid json",
			method:     http.MethodPost,
			body:       `{"device_id":`,
			wantStatus: http.StatusBadRequest,
			wantError:  common.KindInvalidRequest,
		},
		{
			name:       "device id too short",
			method:     http.MethodPost,
			body:       `{"device_id":"ab"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  common.KindInvalidRequest,
		},
		{
			name:       "region too long",
			method:     http.MethodPost,
			body:       `{"device_id":"dev-1","region":"` + strings.Repeat("r", 51) + `"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  common.KindInvalidRequest,
		},
		{
			name:   "conflict",
			method: http.MethodPost,
			body:   `{"device_id":"dev-1"}`,
			registerFn: func(ctx context.Context, id string, meta registry.Metadata) (*registry.Device, string, error) {
				return nil, "", fmt.Errorf("registering device: %w", registry.ErrConflict)
			},
			wantStatus: http.StatusConflict,
			wantError:  common.KindDeviceConflict,
		},
		{
			name:   "success",
			method: http.MethodPost,
			body:   `{"device_id":"dev-1","device_type":"sensor","app_version":"1.2.0"}`,
			registerFn: func(ctx context.Context, id string, meta registry.Metadata) (*registry.Device, string, error) {
				if id != "dev-1" || meta.DeviceType != "sensor" || meta.AppVersion != "1.2.0" {
					return nil, "", fmt.Errorf("unexpected input %q %+v", id, meta)
				}
				return &registry.Device{ID: id, RegisteredAt: registeredAt, Metadata: meta}, "s3cret", nil
			},
			wantStatus: http.StatusCreated,
			wantBody: &Response{
				DeviceID:     "dev-1",
				Secret:       "s3cret",
				RegisteredAt: registeredAt,
				Metadata:     registry.Metadata{DeviceType: "sensor", AppVersion: "1.2.0"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(Config{Registry: &test.MockRegistry{RegisterFunc: tt.registerFn}})

			req := httptest.NewRequest(tt.method, "/device/register", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %v, want no-store", got)
			}

			if tt.wantBody != nil {
				var got Response
				if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
					t.Fatalf("Failed to decode response: %v", err)
				}
				if diff := cmp.Diff(*tt.wantBody, got); diff != "" {
					t.Errorf("response mismatch (-want +got):\n%s", diff)
				}
				return
			}

			var resp common.ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
		})
	}
}
