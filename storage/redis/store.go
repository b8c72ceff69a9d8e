package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hmxlabs/hmx-gateway/instrumentation"
	"github.com/hmxlabs/hmx-gateway/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all gateway keys.
	DefaultKeyPrefix = "hmx:"

	// scanBatchSize is the number of keys fetched per SCAN iteration.
	scanBatchSize = 100

	// connectionVerifyTimeout bounds the initial PING.
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g. "localhost:6379".
	Address string

	// Password is the optional password for authentication.
	Password string

	// DB is the Redis database index.
	DB int

	// KeyPrefix namespaces all keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Logger for structured logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is a RecordStore backed by Redis.
type Store struct {
	client *goredis.Client
	prefix string
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
}

var _ storage.RecordStore = (*Store)(nil)

// New creates a Redis store and verifies connectivity with a PING.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis: address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectionVerifyTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis: connection verify: %w", err)
	}

	return &Store{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: cfg.Logger,
	}, nil
}

// NewFromClient wraps an existing client. Used by tests with miniredis.
func NewFromClient(client *goredis.Client, keyPrefix string, logger *slog.Logger) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: keyPrefix, logger: logger}
}

// SetInstrumentation attaches OpenTelemetry metrics for store operations.
// Call it once after construction.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// record reports one store operation. Deferred with a pointer to the
// method's error result so it sees the final outcome.
func (s *Store) record(ctx context.Context, op string, start time.Time, errp *error) {
	if s.inst == nil {
		return
	}

	result := "success"
	if err := *errp; errors.Is(err, storage.ErrNotFound) {
		result = "not_found"
	} else if err != nil {
		result = "error"
	}
	s.inst.Metrics().RecordStorageOperation(ctx, op, result, float64(time.Since(start).Nanoseconds())/1e6)
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) sessionKey(id string) string  { return s.prefix + "session:" + id }
func (s *Store) userKey(id string) string     { return s.prefix + "user:" + id }
func (s *Store) featureKey(key string) string { return s.prefix + "feature:" + key }

// sessionDoc is the stored shape of a session record.
type sessionDoc struct {
	UserID     string `json:"id"`
	HardwareID string `json:"hwid"`
	ExpiresAt  int64  `json:"expires"`
}

// featureDoc is the stored shape of a catalog entry.
type featureDoc struct {
	Fields     map[string]string `json:"fields"`
	MinVersion string            `json:"min_version,omitempty"`
}

func (s *Store) getJSON(ctx context.Context, key string, dst any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return storage.ErrNotFound
	}
	if err != nil {
		s.logger.Warn("Record fetch failed", "key", key, "error", err)
		return storage.ErrNotFound
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.logger.Warn("Record decode failed", "key", key, "error", err)
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// GetSession retrieves a session by identifier.
func (s *Store) GetSession(ctx context.Context, sessionID string) (_ *storage.Session, err error) {
	defer s.record(ctx, "get_session", time.Now(), &err)

	var doc sessionDoc
	if err := s.getJSON(ctx, s.sessionKey(sessionID), &doc); err != nil {
		return nil, err
	}
	return &storage.Session{
		ID:         sessionID,
		UserID:     doc.UserID,
		HardwareID: doc.HardwareID,
		ExpiresAt:  doc.ExpiresAt,
	}, nil
}

// ListSessions scans the session keyspace.
func (s *Store) ListSessions(ctx context.Context) (_ []*storage.Session, err error) {
	defer s.record(ctx, "list_sessions", time.Now(), &err)

	pattern := s.sessionKey("*")
	var sessions []*storage.Session

	iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		sessionID := strings.TrimPrefix(key, s.sessionKey(""))

		session, err := s.GetSession(ctx, sessionID)
		if errors.Is(err, storage.ErrNotFound) {
			continue // deleted between SCAN and GET
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session record.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (err error) {
	defer s.record(ctx, "delete_session", time.Now(), &err)

	if err := s.client.Del(ctx, s.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis: delete session: %w", err)
	}
	return nil
}

// GetUser retrieves a user record by identifier.
func (s *Store) GetUser(ctx context.Context, userID string) (_ *storage.User, err error) {
	defer s.record(ctx, "get_user", time.Now(), &err)

	var flags map[string]bool
	if err := s.getJSON(ctx, s.userKey(userID), &flags); err != nil {
		return nil, err
	}
	return &storage.User{ID: userID, Entitlements: flags}, nil
}

// GetCatalog scans the feature keyspace and assembles the catalog.
func (s *Store) GetCatalog(ctx context.Context) (_ storage.Catalog, err error) {
	defer s.record(ctx, "get_catalog", time.Now(), &err)

	pattern := s.featureKey("*")
	catalog := make(storage.Catalog)

	iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		featureID := strings.TrimPrefix(key, s.featureKey(""))

		var doc featureDoc
		if err := s.getJSON(ctx, key, &doc); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		catalog[featureID] = storage.Feature{Fields: doc.Fields, MinVersion: doc.MinVersion}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan features: %w", err)
	}
	if len(catalog) == 0 {
		return nil, storage.ErrNotFound
	}
	return catalog, nil
}

// GetFeature retrieves a single catalog entry.
func (s *Store) GetFeature(ctx context.Context, featureID string) (_ *storage.Feature, err error) {
	defer s.record(ctx, "get_feature", time.Now(), &err)

	var doc featureDoc
	if err := s.getJSON(ctx, s.featureKey(featureID), &doc); err != nil {
		return nil, err
	}
	return &storage.Feature{Fields: doc.Fields, MinVersion: doc.MinVersion}, nil
}

// PutSession stores a session record (used by tooling and tests; the
// gateway itself never issues sessions).
func (s *Store) PutSession(ctx context.Context, session *storage.Session) error {
	return s.setJSON(ctx, s.sessionKey(session.ID), sessionDoc{
		UserID:     session.UserID,
		HardwareID: session.HardwareID,
		ExpiresAt:  session.ExpiresAt,
	})
}

// PutUser stores a user record.
func (s *Store) PutUser(ctx context.Context, user *storage.User) error {
	return s.setJSON(ctx, s.userKey(user.ID), user.Entitlements)
}

// PutFeature stores a catalog entry.
func (s *Store) PutFeature(ctx context.Context, featureID string, feature storage.Feature) error {
	return s.setJSON(ctx, s.featureKey(featureID), featureDoc{
		Fields:     feature.Fields,
		MinVersion: feature.MinVersion,
	})
}
