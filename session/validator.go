// Package session validates client-presented session credentials against
// the record store: the session must exist, be unexpired, and be bound to
// the hardware identifier the client claims.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hmxlabs/hmx-gateway/storage"
)

// Validation failure reasons, in check order. The order matters for
// diagnostic precision only; every check must pass regardless.
var (
	// ErrInvalidSession means no session record exists for the identifier
	// (or the store could not produce one; the two are indistinguishable).
	ErrInvalidSession = errors.New("session: invalid session")

	// ErrExpired means the session expiry timestamp has passed. No skew
	// tolerance is applied.
	ErrExpired = errors.New("session: expired")

	// ErrHardwareMismatch means the stored hardware binding does not match
	// the identifier the client supplied.
	ErrHardwareMismatch = errors.New("session: hardware mismatch")
)

// Validator resolves and checks session records.
type Validator struct {
	store  storage.SessionStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// NewValidator creates a session validator over the given store.
func NewValidator(store storage.SessionStore, opts ...Option) (*Validator, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	v := &Validator{
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate checks the session in order (existence, freshness,
// hardware binding), short-circuiting on the first failure. On success it
// returns the owning user identifier.
func (v *Validator) Validate(ctx context.Context, sessionID, hardwareID string) (string, error) {
	record, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			v.logger.Warn("Session lookup failed", "error", err)
		}
		return "", ErrInvalidSession
	}

	if record.Expired(v.now()) {
		return "", ErrExpired
	}

	if record.HardwareID != hardwareID {
		return "", ErrHardwareMismatch
	}

	return record.UserID, nil
}
