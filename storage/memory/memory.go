// Package memory provides an in-memory implementation of the record store.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/hmxlabs/hmx-gateway/instrumentation"
	"github.com/hmxlabs/hmx-gateway/storage"
)

// Store is an in-memory RecordStore. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	sessions map[string]*storage.Session
	users    map[string]*storage.User
	catalog  storage.Catalog

	logger *slog.Logger
	inst   *instrumentation.Instrumentation
}

var _ storage.RecordStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*storage.Session),
		users:    make(map[string]*storage.User),
		catalog:  make(storage.Catalog),
		logger:   slog.Default(),
	}
}

// SetLogger sets the structured logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation attaches OpenTelemetry metrics for store operations.
// Call it once after construction.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inst = inst
}

// record reports one store operation. Deferred with a pointer to the
// method's error result so it sees the final outcome.
func (s *Store) record(ctx context.Context, op string, start time.Time, errp *error) {
	s.mu.RLock()
	inst := s.inst
	s.mu.RUnlock()
	if inst == nil {
		return
	}

	result := "success"
	if err := *errp; errors.Is(err, storage.ErrNotFound) {
		result = "not_found"
	} else if err != nil {
		result = "error"
	}
	inst.Metrics().RecordStorageOperation(ctx, op, result, float64(time.Since(start).Nanoseconds())/1e6)
}

// PutSession inserts or replaces a session record.
func (s *Store) PutSession(session *storage.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
}

// PutUser inserts or replaces a user record.
func (s *Store) PutUser(user *storage.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := storage.User{ID: user.ID, Entitlements: maps.Clone(user.Entitlements)}
	s.users[user.ID] = &copied
}

// PutFeature inserts or replaces a catalog entry.
func (s *Store) PutFeature(key string, feature storage.Feature) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[key] = storage.Feature{
		Fields:     maps.Clone(feature.Fields),
		MinVersion: feature.MinVersion,
	}
}

// GetSession retrieves a session by identifier.
func (s *Store) GetSession(ctx context.Context, sessionID string) (_ *storage.Session, err error) {
	defer s.record(ctx, "get_session", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

// ListSessions returns all session records.
func (s *Store) ListSessions(ctx context.Context) (_ []*storage.Session, err error) {
	defer s.record(ctx, "list_sessions", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*storage.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		copied := *session
		sessions = append(sessions, &copied)
	}
	return sessions, nil
}

// DeleteSession removes a session record. Deleting an absent session is
// not an error.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (err error) {
	defer s.record(ctx, "delete_session", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; ok {
		delete(s.sessions, sessionID)
		s.logger.Debug("Deleted session", "session_id", sessionID)
	}
	return nil
}

// GetUser retrieves a user record by identifier.
func (s *Store) GetUser(ctx context.Context, userID string) (_ *storage.User, err error) {
	defer s.record(ctx, "get_user", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := storage.User{ID: user.ID, Entitlements: maps.Clone(user.Entitlements)}
	return &copied, nil
}

// GetCatalog returns a copy of the feature catalog.
func (s *Store) GetCatalog(ctx context.Context) (_ storage.Catalog, err error) {
	defer s.record(ctx, "get_catalog", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	catalog := make(storage.Catalog, len(s.catalog))
	for key, feature := range s.catalog {
		catalog[key] = storage.Feature{
			Fields:     maps.Clone(feature.Fields),
			MinVersion: feature.MinVersion,
		}
	}
	return catalog, nil
}

// GetFeature retrieves a single catalog entry.
func (s *Store) GetFeature(ctx context.Context, featureKey string) (_ *storage.Feature, err error) {
	defer s.record(ctx, "get_feature", time.Now(), &err)

	s.mu.RLock()
	defer s.mu.RUnlock()

	feature, ok := s.catalog[featureKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := storage.Feature{
		Fields:     maps.Clone(feature.Fields),
		MinVersion: feature.MinVersion,
	}
	return &copied, nil
}
