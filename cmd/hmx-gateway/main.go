// Command hmx-gateway serves the session-gated API-entitlement gateway.
//
// Configuration comes from the environment (a local .env file is loaded
// when present). SERVICE_SECRET is required; with the default firebase
// backend STORE_BASE_URL is required too.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/hmxlabs/hmx-gateway"
	"github.com/hmxlabs/hmx-gateway/instrumentation"
	"github.com/hmxlabs/hmx-gateway/security"
	"github.com/hmxlabs/hmx-gateway/storage"
	"github.com/hmxlabs/hmx-gateway/storage/firebase"
	"github.com/hmxlabs/hmx-gateway/storage/memory"
	"github.com/hmxlabs/hmx-gateway/storage/redis"
	"github.com/hmxlabs/hmx-gateway/sweeper"
)

const serviceName = "hmx-gateway"

type envConfig struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	StoreBackend string `env:"STORE_BACKEND" envDefault:"firebase"`
	StoreBaseURL string `env:"STORE_BASE_URL"`

	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB" envDefault:"0"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"hmx:"`

	Secret         string        `env:"SERVICE_SECRET,required"`
	CipherMode     string        `env:"CIPHER_MODE" envDefault:"digest"`
	ServiceVersion string        `env:"SERVICE_VERSION" envDefault:"1"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	RateLimitRate     int  `env:"RATE_LIMIT_RATE" envDefault:"0"`
	RateLimitBurst    int  `env:"RATE_LIMIT_BURST" envDefault:"0"`
	TrustProxy        bool `env:"TRUST_PROXY" envDefault:"false"`
	TrustedProxyCount int  `env:"TRUSTED_PROXY_COUNT" envDefault:"1"`

	AuditLogging  bool          `env:"AUDIT_LOGGING" envDefault:"true"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	OTelEnabled bool `env:"OTEL_ENABLED" envDefault:"false"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the real environment wins anyway.
	_ = godotenv.Load()

	var cfg envConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.ServiceVersion,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		return fmt.Errorf("instrumentation: %w", err)
	}

	store, err := newStore(ctx, cfg, logger, inst)
	if err != nil {
		return fmt.Errorf("record store: %w", err)
	}

	srv, err := gateway.NewServer(store, &gateway.Config{
		Secret:         cfg.Secret,
		CipherMode:     security.CipherMode(cfg.CipherMode),
		ServiceVersion: cfg.ServiceVersion,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit: gateway.RateLimitConfig{
			Rate:              cfg.RateLimitRate,
			Burst:             cfg.RateLimitBurst,
			TrustProxy:        cfg.TrustProxy,
			TrustedProxyCount: cfg.TrustedProxyCount,
		},
		EnableAuditLogging: cfg.AuditLogging,
		Logger:             logger,
	}, gateway.WithInstrumentation(inst))
	if err != nil {
		return fmt.Errorf("gateway server: %w", err)
	}

	handler := gateway.NewHandler(srv, logger)
	defer handler.Close()

	sw := sweeper.New(store,
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithLogger(logger),
		sweeper.WithAuditor(srv.Auditor()),
		sweeper.WithInstrumentation(inst),
	)
	sw.Start(ctx)
	defer sw.Stop()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			"addr", cfg.ListenAddr,
			"backend", cfg.StoreBackend,
			"cipher_mode", cfg.CipherMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Error("instrumentation shutdown failed", "error", err)
	}
	return nil
}

func newStore(ctx context.Context, cfg envConfig, logger *slog.Logger, inst *instrumentation.Instrumentation) (storage.RecordStore, error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case "firebase":
		if cfg.StoreBaseURL == "" {
			return nil, fmt.Errorf("STORE_BASE_URL is required for the firebase backend")
		}
		store, err := firebase.New(cfg.StoreBaseURL, firebase.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		store.SetInstrumentation(inst)
		return store, nil
	case "redis":
		store, err := redis.New(ctx, redis.Config{
			Address:   cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		store.SetInstrumentation(inst)
		return store, nil
	case "memory":
		logger.Warn("using in-memory record store; records do not persist")
		store := memory.New()
		store.SetLogger(logger)
		store.SetInstrumentation(inst)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
