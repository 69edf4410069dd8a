// Package main implements the device authentication proxy server
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"

	"github.com/wrale/device-auth-proxy/internal/registry"
)

// Version is set by the build process
var Version = "dev"

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	// Load configuration from environment
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logger := setupLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("starting device-auth-proxy", slog.String("env", cfg.Env), slog.String("version", Version))

	if err := run(cfg, logger); err != nil {
		logger.Error("service_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}

	logger.Info("service_stopped")
}

func run(cfg Config, logger *slog.Logger) error {
	// Create Redis client
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis_close_failed", slog.String("err", err.Error()))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	// Device registry lives in Postgres when configured, Redis otherwise
	var store registry.Store = registry.NewRedisStore(redisClient)
	if cfg.DatabaseURL != "" {
		pg, err := registry.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
		logger.Info("registry_backend", slog.String("backend", "postgres"))
	} else {
		logger.Info("registry_backend", slog.String("backend", "redis"))
	}

	srv, err := newServer(cfg, logger, redisClient, store)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if err := srv.checkHealth(ctx); err != nil {
		return fmt.Errorf("startup health check: %w", err)
	}

	// Create HTTP server with proper timeout configurations
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("http_listen_start", slog.Int("port", cfg.Port))
		serverErrors <- httpServer.ListenAndServe()
	}()

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil

	case sig := <-shutdown:
		logger.Info("shutdown_requested", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
			if err := httpServer.Close(); err != nil {
				logger.Warn("http_close_failed", slog.String("err", err.Error()))
			}
		}
		logger.Info("http_stopped")
	}

	return nil
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
