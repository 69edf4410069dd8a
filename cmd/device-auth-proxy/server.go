package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/admin"
	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/check"
	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/common"
	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/device"
	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/guard"
	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/health"
	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/refresh"
	"github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/register"
	tokenhandler "github.com/wrale/device-auth-proxy/cmd/device-auth-proxy/handlers/token"
	"github.com/wrale/device-auth-proxy/internal/hmacauth"
	"github.com/wrale/device-auth-proxy/internal/logctx"
	"github.com/wrale/device-auth-proxy/internal/metrics"
	"github.com/wrale/device-auth-proxy/internal/ratelimit"
	"github.com/wrale/device-auth-proxy/internal/registry"
	"github.com/wrale/device-auth-proxy/internal/token"
)

type server struct {
	cfg      Config
	log      *slog.Logger
	router   *chi.Mux
	registry *registry.Registry
	nonces   hmacauth.NonceStore
	hmac     *hmacauth.Validator
	issuer   *token.Issuer
	verifier *token.Verifier
	limiter  *ratelimit.Limiter
	metrics  *metrics.Registry
}

// newServer wires the services on top of a Redis client and a device store
func newServer(cfg Config, log *slog.Logger, rdb *redis.Client, store registry.Store) (*server, error) {
	secrets, err := registry.NewSecretDeriver([]byte(cfg.DeviceSecretKey))
	if err != nil {
		return nil, fmt.Errorf("device secret key: %w", err)
	}
	reg := registry.New(store, secrets, registry.WithTimeout(cfg.StoreTimeout))

	nonces := hmacauth.NewRedisNonceStore(rdb)
	validator, err := hmacauth.NewValidator(reg, nonces,
		hmacauth.WithSkew(cfg.HMACAllowedDrift),
		hmacauth.WithTimeout(cfg.StoreTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("creating validator: %w", err)
	}

	previous, err := token.ParseKeys(cfg.JWTPreviousSecrets)
	if err != nil {
		return nil, fmt.Errorf("parsing previous jwt secrets: %w", err)
	}
	keys, err := token.NewKeyring(token.Key{ID: cfg.JWTKeyID, Secret: []byte(cfg.JWTSecret)}, previous...)
	if err != nil {
		return nil, fmt.Errorf("jwt keys: %w", err)
	}
	tokenOpts := []token.Option{
		token.WithIssuer(cfg.JWTIssuer),
		token.WithAudience(cfg.JWTAudience),
		token.WithAccessTTL(cfg.AccessTokenTTL),
		token.WithRefreshTTL(cfg.RefreshTokenTTL),
	}

	tiers := ratelimit.DefaultTiers()
	if cfg.RateLimitTiersFile != "" {
		if tiers, err = ratelimit.LoadTiers(cfg.RateLimitTiersFile); err != nil {
			return nil, err
		}
	}
	limiter, err := ratelimit.New(ratelimit.NewRedisCounter(rdb),
		ratelimit.WithTiers(tiers),
		ratelimit.WithTimeout(cfg.StoreTimeout),
		ratelimit.WithLocalFallback(cfg.RateLimitLocalFallback),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rate limiter: %w", err)
	}

	srv := &server{
		cfg:      cfg,
		log:      log,
		router:   chi.NewRouter(),
		registry: reg,
		nonces:   nonces,
		hmac:     validator,
		issuer:   token.NewIssuer(keys, reg, tokenOpts...),
		verifier: token.NewVerifier(keys, reg, tokenOpts...),
		limiter:  limiter,
		metrics:  metrics.NewRegistry(),
	}

	// Set up middleware
	srv.router.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		srv.router.Use(middleware.RealIP)
	}
	srv.router.Use(requestLogger(log))
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.Timeout(cfg.RequestTimeout))

	srv.routes()

	return srv, nil
}

func (s *server) routes() {
	m := s.metrics
	limit := func(scope ratelimit.Scope) func(http.Handler) http.Handler {
		return guard.RateLimit(s.limiter, scope, m)
	}
	bearer := guard.RequireDevice(s.verifier, common.Responder{Component: "auth", Reporter: m})

	s.router.Get("/health", health.New(map[string]health.Checker{
		"registry":   s.registry,
		"nonces":     s.nonces,
		"rate_limit": s.limiter,
	}).WithVersion(Version).ServeHTTP)
	s.router.With(limit(ratelimit.ScopeGeneral)).Handle("/metrics", m.Handler())

	devices := device.New(device.Config{Registry: s.registry, Reporter: m})

	s.router.With(limit(ratelimit.ScopeMutation)).
		Post("/device/register", register.New(register.Config{Registry: s.registry, Reporter: m}).ServeHTTP)
	s.router.With(limit(ratelimit.ScopeMutation), bearer).
		Post("/device/rotate-secret", devices.Rotate)
	s.router.With(limit(ratelimit.ScopeGeneral), bearer).
		Get("/device/me", devices.Me)

	s.router.Route("/auth", func(r chi.Router) {
		r.Use(limit(ratelimit.ScopeAuth))
		r.Post("/get-token", tokenhandler.New(tokenhandler.Config{
			Validator: s.hmac,
			Issuer:    s.issuer,
			Reporter:  m,
		}).ServeHTTP)
		r.Post("/refresh-token", refresh.New(refresh.Config{Issuer: s.issuer, Reporter: m}).ServeHTTP)
		r.With(bearer).Get("/check", check.New().ServeHTTP)
	})

	s.router.With(
		limit(ratelimit.ScopeAdmin),
		guard.RequireAdminKey(s.cfg.AdminAPIKey, common.Responder{Component: "admin", Reporter: m}),
	).Post("/admin/devices/{id}/revoke", admin.New(admin.Config{Registry: s.registry, Reporter: m}).ServeHTTP)
}

// checkHealth reports the first unhealthy component
func (s *server) checkHealth(ctx context.Context) error {
	if err := s.registry.CheckHealth(ctx); err != nil {
		return fmt.Errorf("registry: %w", err)
	}
	if err := s.nonces.CheckHealth(ctx); err != nil {
		return fmt.Errorf("nonces: %w", err)
	}
	if err := s.limiter.CheckHealth(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// requestLogger stores a request-scoped logger in the context and logs each
// request once it completes
func requestLogger(l *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := l
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				reqLogger = reqLogger.With(slog.String("request_id", rid))
			}
			r = r.WithContext(logctx.Into(r.Context(), reqLogger))

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logctx.From(r.Context()).LogAttrs(r.Context(), slog.LevelInfo, "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("dur", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
			)
		})
	}
}
