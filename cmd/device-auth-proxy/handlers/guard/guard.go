// Package guard holds the middleware that admits or rejects requests before
// they reach a handler: rate limiting, device bearer tokens and the admin key
package guard

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/common"
	"github.com/wrale/device-auth-proxy/internal/logctx"
	"github.com/wrale/device-auth-proxy/internal/ratelimit"
	"github.com/wrale/device-auth-proxy/internal/token"
)

// Limiter decides whether a request may proceed
type Limiter interface {
	Check(ctx context.Context, ip string, scope ratelimit.Scope) ratelimit.Decision
}

// Verifier authenticates access tokens
type Verifier interface {
	Verify(ctx context.Context, raw string) (*token.Identity, error)
}

// Reporter counts limiter decisions and failures; *metrics.Registry satisfies it
type Reporter interface {
	common.Reporter
	IncRateLimit(tier, result string)
}

// ClientIP returns the address requests are limited by. It is the host part of
// RemoteAddr, which chi's RealIP middleware rewrites when proxy headers are trusted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit counts each request against the limiter tiers matching scope
func RateLimit(l Limiter, scope ratelimit.Scope, rep Reporter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Check(r.Context(), ClientIP(r), scope)

			if d.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
				w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
			}

			result := "allowed"
			switch {
			case d.Unavailable:
				result = "unavailable"
			case !d.Allowed:
				result = "denied"
			case d.Degraded:
				result = "degraded"
			}
			if rep != nil {
				tier := d.Tier
				if tier == "" {
					tier = "none"
				}
				rep.IncRateLimit(tier, result)
			}

			switch {
			case d.Unavailable:
				if rep != nil {
					rep.IncFailure(common.KindDependencyUnavailable)
					rep.IncStoreUnavailable("ratelimit")
				}
				common.WriteRetryError(w, http.StatusServiceUnavailable, common.KindDependencyUnavailable,
					"Rate limiting is temporarily unavailable", d.RetryAfter)
			case !d.Allowed:
				if rep != nil {
					rep.IncFailure(common.KindRateLimited)
				}
				common.WriteRetryError(w, http.StatusTooManyRequests, common.KindRateLimited,
					"Too many requests, limit "+d.Tier+" exceeded", d.RetryAfter)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireDevice admits requests carrying a valid device access token and stores
// the identity in the request context
func RequireDevice(v Verifier, resp common.Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				resp.Fail(w, r, common.ErrUnauthenticated)
				return
			}

			id, err := v.Verify(r.Context(), raw)
			if err != nil {
				resp.Fail(w, r, err)
				return
			}

			ctx := common.WithIdentity(r.Context(), id)
			ctx = logctx.Into(ctx, logctx.From(ctx).With(slog.String("device_id", id.DeviceID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdminKey admits requests whose bearer token equals key. An empty key
// rejects every request.
func RequireAdminKey(key string, resp common.Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok || key == "" || subtle.ConstantTimeCompare([]byte(raw), []byte(key)) != 1 {
				resp.Fail(w, r, common.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, raw, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
