// Package deviceclient is a Go client for devices talking to the proxy. It
// registers devices, signs token requests and keeps tokens fresh through an
// oauth2.TokenSource.
package deviceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/wrale/device-auth-proxy/internal/hmacauth"
)

// Credentials identify a registered device
type Credentials struct {
	DeviceID string
	Secret   string
}

// Metadata is optional information sent at registration
type Metadata struct {
	DeviceType string `json:"device_type,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
	Region     string `json:"region,omitempty"`
}

// Registration is the server response to a successful registration
type Registration struct {
	DeviceID     string    `json:"device_id"`
	Secret       string    `json:"secret"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Credentials returns the credentials for signing token requests
func (r *Registration) Credentials() Credentials {
	return Credentials{DeviceID: r.DeviceID, Secret: r.Secret}
}

// Error is a failure reported by the server
type Error struct {
	StatusCode  int
	Code        string `json:"error"`
	Description string `json:"error_description"`
	RetryAfter  time.Duration
}

func (e *Error) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("%s (%d)", e.Code, e.StatusCode)
}

// Client talks to a device-auth-proxy server
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the client used for unauthenticated calls
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClock sets the time source used for envelope timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sign builds a signed envelope for creds at the given time with a fresh nonce
func Sign(creds Credentials, at time.Time, payload string) *hmacauth.Envelope {
	env := &hmacauth.Envelope{
		DeviceID:  creds.DeviceID,
		Timestamp: strconv.FormatInt(at.Unix(), 10),
		Nonce:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		Payload:   payload,
	}
	env.Signature = hmacauth.Sign([]byte(creds.Secret), env.Canonical())
	return env
}

// Register registers deviceID and returns its secret
func (c *Client) Register(ctx context.Context, deviceID string, meta Metadata) (*Registration, error) {
	body := struct {
		DeviceID string `json:"device_id"`
		Metadata
	}{DeviceID: deviceID, Metadata: meta}

	var reg Registration
	if err := c.post(ctx, "/device/register", body, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// GetToken exchanges a freshly signed envelope for a token pair
func (c *Client) GetToken(ctx context.Context, creds Credentials) (*oauth2.Token, error) {
	return c.token(ctx, "/auth/get-token", Sign(creds, c.now(), ""))
}

// Refresh exchanges a refresh token for a new pair. Each refresh token works once.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	body := struct {
		RefreshToken string `json:"refresh_token"`
	}{refreshToken}
	return c.token(ctx, "/auth/refresh-token", body)
}

func (c *Client) token(ctx context.Context, path string, body any) (*oauth2.Token, error) {
	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := c.post(ctx, path, body, &pair); err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  pair.AccessToken,
		TokenType:    pair.TokenType,
		RefreshToken: pair.RefreshToken,
		Expiry:       c.now().Add(time.Duration(pair.ExpiresIn) * time.Second),
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	e := &Error{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, e); err != nil || e.Code == "" {
		e.Code = http.StatusText(resp.StatusCode)
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}
