package gateway

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hmxlabs/hmx-gateway/security"
)

// Default configuration values.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultServiceVersion = "1"
)

// Config holds the gateway configuration.
type Config struct {
	// Secret is the service secret used to salt field-key derivation
	// (required). Clients holding the same secret can reproduce the
	// derived key for a given session and hardware pair.
	Secret string

	// CipherMode selects how field values are sealed.
	// Default: CipherModeDigest.
	CipherMode security.CipherMode

	// ServiceVersion is reported in the app manifest's version field.
	// Default: "1".
	ServiceVersion string

	// RequestTimeout bounds the whole request pipeline, including
	// record-store round trips. Default: 10 seconds.
	RequestTimeout time.Duration

	// RateLimit configures per-IP request limiting.
	RateLimit RateLimitConfig

	// EnableAuditLogging enables security audit logging. Session and
	// hardware identifiers are hashed before they reach the log.
	EnableAuditLogging bool

	// Logger for structured logging (optional, uses default if not
	// provided).
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of
	// this server. Used with TrustProxy to pick the right entry out of
	// X-Forwarded-For. Default: 1.
	TrustedProxyCount int
}

// applyDefaults fills in zero values. The secret is deliberately not
// defaulted; a deployment without one must fail at startup.
func (c *Config) applyDefaults() {
	if c.CipherMode == "" {
		c.CipherMode = security.CipherModeDigest
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = DefaultServiceVersion
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RateLimit.Rate > 0 && c.RateLimit.Burst == 0 {
		// A zero-burst bucket admits nothing; rate alone must mean a
		// working limiter.
		c.RateLimit.Burst = c.RateLimit.Rate
	}
	if c.RateLimit.TrustedProxyCount <= 0 {
		c.RateLimit.TrustedProxyCount = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("service secret is required")
	}
	if !c.CipherMode.Valid() {
		return fmt.Errorf("unknown cipher mode %q", c.CipherMode)
	}
	if c.RateLimit.Rate < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	return nil
}
