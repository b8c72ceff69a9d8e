// Package storage defines the record-store interface consumed by the
// gateway: sessions, users, and the feature catalog. It supports multiple
// backend implementations including the Firebase-style HTTP store,
// in-memory, and Redis.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
//
// Backends that talk to a remote store over HTTP cannot distinguish a
// missing record from a transient upstream failure; both surface as
// ErrNotFound. The conflation is deliberate and mirrors the upstream
// store's contract; callers must not treat it as authoritative deletion.
var ErrNotFound = errors.New("storage: record not found")

// Session binds a user to one hardware identifier with an expiry.
// Sessions are created by an external issuer; this system only reads and
// eventually sweeps them.
type Session struct {
	ID         string `json:"-"`
	UserID     string `json:"id"`
	HardwareID string `json:"hwid"`
	ExpiresAt  int64  `json:"expires"` // unix seconds
}

// Expired reports whether the session expiry has passed at the given
// instant. No clock-skew grace is applied.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() > s.ExpiresAt
}

// User holds the per-user entitlement flags. A feature key maps to true
// when the user may access that feature group; absent keys mean denied.
type User struct {
	ID           string
	Entitlements map[string]bool
}

// Entitled reports whether the user's flag for the feature key is
// explicitly true. Absent or non-true flags mean denied, never an error.
func (u *User) Entitled(featureKey string) bool {
	return u != nil && u.Entitlements[featureKey]
}

// Feature is one entry of the feature catalog: a set of named string
// fields plus an optional minimum client version used for feature gating.
type Feature struct {
	Fields     map[string]string
	MinVersion string
}

// Catalog is the full feature catalog keyed by feature key.
type Catalog map[string]Feature

// SessionStore provides read and sweep access to session records.
// All methods accept context.Context for cancellation and tracing.
type SessionStore interface {
	// GetSession retrieves a session by its identifier.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// ListSessions returns all session records (used by the expiry sweep).
	ListSessions(ctx context.Context) ([]*Session, error)

	// DeleteSession removes a session record. Fire-and-forget from the
	// sweep's perspective; errors are reported but never fatal.
	DeleteSession(ctx context.Context, sessionID string) error
}

// UserStore provides read access to user entitlement records.
type UserStore interface {
	// GetUser retrieves a user record by its identifier.
	GetUser(ctx context.Context, userID string) (*User, error)
}

// CatalogStore provides read access to the feature catalog.
type CatalogStore interface {
	// GetCatalog retrieves the complete feature catalog.
	GetCatalog(ctx context.Context) (Catalog, error)

	// GetFeature retrieves a single catalog entry by feature key.
	GetFeature(ctx context.Context, featureKey string) (*Feature, error)
}

// RecordStore is the full store surface the gateway depends on.
type RecordStore interface {
	SessionStore
	UserStore
	CatalogStore
}
