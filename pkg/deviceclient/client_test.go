package deviceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wrale/device-auth-proxy/internal/hmacauth"
)

const testSecret = "c2VjcmV0LXNlY3JldC1zZWNyZXQtc2VjcmV0LXNlY3I"

// fakeServer mimics the proxy endpoints closely enough to drive the client
type fakeServer struct {
	t         *testing.T
	expiresIn int64

	mu         sync.Mutex
	issued     int
	gets       int
	refreshes  int
	acceptOnce map[string]bool
	refreshErr int
}

func newFakeServer(t *testing.T, expiresIn int64) (*fakeServer, *httptest.Server) {
	f := &fakeServer{t: t, expiresIn: expiresIn, acceptOnce: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/device/register", f.register)
	mux.HandleFunc("/auth/get-token", f.getToken)
	mux.HandleFunc("/auth/refresh-token", f.refresh)
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("Authorization")))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string `json:"device_id"`
		DeviceType string `json:"device_type"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	w.Header().Set("Content-Type", "application/json")
	if req.DeviceID == "taken" {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"device_conflict","error_description":"device already registered"}`))
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"device_id":     req.DeviceID,
		"secret":        testSecret,
		"registered_at": "2026-01-02T03:04:05Z",
		"device_type":   req.DeviceType,
	})
}

func (f *fakeServer) getToken(w http.ResponseWriter, r *http.Request) {
	var env hmacauth.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if env.Signature != hmacauth.Sign([]byte(testSecret), env.Canonical()) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_signature"}`))
		return
	}

	f.mu.Lock()
	f.gets++
	f.mu.Unlock()
	f.writePair(w)
}

func (f *fakeServer) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.refreshes++
	status := f.refreshErr
	ok := f.acceptOnce[req.RefreshToken]
	if status == 0 {
		delete(f.acceptOnce, req.RefreshToken)
	}
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"dependency_unavailable"}`))
		return
	}
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"stale_sequence"}`))
		return
	}
	f.writePair(w)
}

func (f *fakeServer) writePair(w http.ResponseWriter) {
	f.mu.Lock()
	f.issued++
	n := f.issued
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  fmt.Sprintf("a-%d", n),
		"refresh_token": fmt.Sprintf("r-%d", n),
		"token_type":    "Bearer",
		"expires_in":    f.expiresIn,
	})
}

func (f *fakeServer) counts() (gets, refreshes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets, f.refreshes
}

func (f *fakeServer) setRefreshErr(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshErr = status
}

func (f *fakeServer) allowRefresh(tok string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acceptOnce[tok] = true
}

func TestSign(t *testing.T) {
	at := time.Unix(1700000000, 0)
	creds := Credentials{DeviceID: "dev-1", Secret: testSecret}

	env := Sign(creds, at, "")
	require.Equal(t, "dev-1", env.DeviceID)
	require.Equal(t, "1700000000", env.Timestamp)
	require.Len(t, env.Nonce, 32)
	require.Equal(t, hmacauth.Sign([]byte(testSecret), "dev-1/1700000000/"+env.Nonce), env.Signature)

	other := Sign(creds, at, "")
	require.NotEqual(t, env.Nonce, other.Nonce)

	withPayload := Sign(creds, at, `{"a":1}`)
	require.Equal(t, hmacauth.Sign([]byte(testSecret), withPayload.Canonical()), withPayload.Signature)
	require.NotEqual(t, hmacauth.Sign([]byte(testSecret), "dev-1/1700000000/"+withPayload.Nonce), withPayload.Signature)
}

func TestRegister(t *testing.T) {
	_, srv := newFakeServer(t, 900)
	c := New(srv.URL)

	reg, err := c.Register(context.Background(), "dev-1", Metadata{DeviceType: "sensor"})
	require.NoError(t, err)
	require.Equal(t, "dev-1", reg.DeviceID)
	require.Equal(t, testSecret, reg.Secret)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), reg.RegisteredAt)
	require.Equal(t, Credentials{DeviceID: "dev-1", Secret: testSecret}, reg.Credentials())

	_, err = c.Register(context.Background(), "taken", Metadata{})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, "device_conflict", apiErr.Code)
	require.Equal(t, "device already registered", apiErr.Description)
	require.Equal(t, 7*time.Second, apiErr.RetryAfter)
}

func TestGetToken(t *testing.T) {
	_, srv := newFakeServer(t, 900)
	now := time.Now()
	c := New(srv.URL, WithClock(func() time.Time { return now }))

	tok, err := c.GetToken(context.Background(), Credentials{DeviceID: "dev-1", Secret: testSecret})
	require.NoError(t, err)
	require.Equal(t, "a-1", tok.AccessToken)
	require.Equal(t, "r-1", tok.RefreshToken)
	require.Equal(t, "Bearer", tok.TokenType)
	require.Equal(t, now.Add(900*time.Second), tok.Expiry)

	_, err = c.GetToken(context.Background(), Credentials{DeviceID: "dev-1", Secret: "wrong-secret"})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "invalid_signature", apiErr.Code)
}

func TestTokenSource_RefreshThenResign(t *testing.T) {
	// Tokens expire inside the oauth2 expiry delta, so every call reaches the server
	f, srv := newFakeServer(t, 1)
	ts := New(srv.URL).TokenSource(context.Background(), Credentials{DeviceID: "dev-1", Secret: testSecret})

	tok, err := ts.Token()
	require.NoError(t, err)
	require.Equal(t, "a-1", tok.AccessToken)

	f.allowRefresh("r-1")
	tok, err = ts.Token()
	require.NoError(t, err)
	require.Equal(t, "a-2", tok.AccessToken)

	// r-2 is rejected, so the source signs a new envelope
	tok, err = ts.Token()
	require.NoError(t, err)
	require.Equal(t, "a-3", tok.AccessToken)

	gets, refreshes := f.counts()
	require.Equal(t, 2, gets)
	require.Equal(t, 2, refreshes)
}

func TestTokenSource_KeepsRefreshTokenOnOutage(t *testing.T) {
	f, srv := newFakeServer(t, 1)
	ts := New(srv.URL).TokenSource(context.Background(), Credentials{DeviceID: "dev-1", Secret: testSecret})

	_, err := ts.Token()
	require.NoError(t, err)

	f.setRefreshErr(http.StatusServiceUnavailable)
	_, err = ts.Token()
	require.Error(t, err)

	f.setRefreshErr(0)
	f.allowRefresh("r-1")
	tok, err := ts.Token()
	require.NoError(t, err)
	require.Equal(t, "a-2", tok.AccessToken)
	gets, _ := f.counts()
	require.Equal(t, 1, gets)
}

func TestHTTPClient(t *testing.T) {
	f, srv := newFakeServer(t, 900)
	hc := New(srv.URL).HTTPClient(context.Background(), Credentials{DeviceID: "dev-1", Secret: testSecret})

	for i := 0; i < 2; i++ {
		resp, err := hc.Get(srv.URL + "/api")
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		require.Equal(t, "Bearer a-1", string(body))
	}
	gets, _ := f.counts()
	require.Equal(t, 1, gets)
}
