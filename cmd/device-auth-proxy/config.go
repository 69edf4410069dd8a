package main

import "time"

// Config holds server configuration loaded from environment variables
type Config struct {
	Port int    `envconfig:"PORT" default:"8080"`
	Env  string `envconfig:"ENV" default:"local"`

	RedisURL    string `envconfig:"REDIS_URL" required:"true"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	DeviceSecretKey string `envconfig:"DEVICE_SECRET_KEY" required:"true"`

	JWTSecret          string        `envconfig:"JWT_SECRET" required:"true"`
	JWTKeyID           string        `envconfig:"JWT_KEY_ID" default:"primary"`
	JWTPreviousSecrets string        `envconfig:"JWT_PREVIOUS_SECRETS"`
	JWTIssuer          string        `envconfig:"JWT_ISSUER" default:"device-auth-proxy"`
	JWTAudience        string        `envconfig:"JWT_AUDIENCE" default:"device-api"`
	AccessTokenTTL     time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"15m"`
	RefreshTokenTTL    time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"720h"`

	HMACAllowedDrift time.Duration `envconfig:"HMAC_ALLOWED_DRIFT" default:"120s"`

	StoreTimeout   time.Duration `envconfig:"STORE_TIMEOUT" default:"500ms"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	RateLimitTiersFile     string `envconfig:"RATE_LIMIT_TIERS_FILE"`
	RateLimitLocalFallback bool   `envconfig:"RATE_LIMIT_LOCAL_FALLBACK" default:"true"`
	TrustProxyHeaders      bool   `envconfig:"TRUST_PROXY_HEADERS" default:"false"`

	// Empty disables the admin endpoints
	AdminAPIKey string `envconfig:"ADMIN_API_KEY"`

	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}
