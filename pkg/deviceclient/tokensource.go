package deviceclient

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
)

// TokenSource returns an oauth2.TokenSource for creds. It reuses the current
// access token until it expires, then spends the refresh token, and signs a
// new envelope when the refresh token is rejected.
func (c *Client) TokenSource(ctx context.Context, creds Credentials) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &deviceTokenSource{ctx: ctx, client: c, creds: creds})
}

// HTTPClient returns an http.Client that authenticates requests as the device
func (c *Client) HTTPClient(ctx context.Context, creds Credentials) *http.Client {
	return oauth2.NewClient(ctx, c.TokenSource(ctx, creds))
}

type deviceTokenSource struct {
	ctx    context.Context
	client *Client
	creds  Credentials

	mu      sync.Mutex
	refresh string
}

func (s *deviceTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refresh != "" {
		tok, err := s.client.Refresh(s.ctx, s.refresh)
		if err == nil {
			s.refresh = tok.RefreshToken
			return tok, nil
		}
		var apiErr *Error
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
			return nil, err
		}
		s.refresh = ""
	}

	tok, err := s.client.GetToken(s.ctx, s.creds)
	if err != nil {
		return nil, err
	}
	s.refresh = tok.RefreshToken
	return tok, nil
}
