package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hmxlabs/hmx-gateway/instrumentation"
	"github.com/hmxlabs/hmx-gateway/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewFromClient(client, "test:", nil)
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := &storage.Session{ID: "s1", UserID: "u1", HardwareID: "h1", ExpiresAt: 100}
	if err := s.PutSession(ctx, want); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.UserID != "u1" || got.HardwareID != "h1" || got.ExpiresAt != 100 {
		t.Errorf("GetSession() = %+v", got)
	}
}

func TestGetSession_Missing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSession(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSession() error = %v, want ErrNotFound", err)
	}
}

func TestListAndDeleteSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := s.PutSession(ctx, &storage.Session{ID: id, UserID: "u-" + id}); err != nil {
			t.Fatalf("PutSession(%s) error = %v", id, err)
		}
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("ListSessions() returned %d sessions, want 3", len(sessions))
	}

	if err := s.DeleteSession(ctx, "s2"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	sessions, err = s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("ListSessions() after delete returned %d sessions, want 2", len(sessions))
	}
	for _, session := range sessions {
		if session.ID == "s2" {
			t.Error("deleted session s2 still listed")
		}
	}
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &storage.User{ID: "u1", Entitlements: map[string]bool{"pro": true, "beta": false}}
	if err := s.PutUser(ctx, user); err != nil {
		t.Fatalf("PutUser() error = %v", err)
	}

	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if !got.Entitled("pro") || got.Entitled("beta") {
		t.Errorf("entitlements = %+v", got.Entitlements)
	}
}

func TestCatalog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutFeature(ctx, "pro", storage.Feature{
		Fields:     map[string]string{"url": "https://api.example.com/pro"},
		MinVersion: "2",
	}); err != nil {
		t.Fatalf("PutFeature() error = %v", err)
	}
	if err := s.PutFeature(ctx, "beta", storage.Feature{
		Fields: map[string]string{"url": "https://api.example.com/beta"},
	}); err != nil {
		t.Fatalf("PutFeature() error = %v", err)
	}

	catalog, err := s.GetCatalog(ctx)
	if err != nil {
		t.Fatalf("GetCatalog() error = %v", err)
	}
	if len(catalog) != 2 {
		t.Fatalf("GetCatalog() returned %d entries, want 2", len(catalog))
	}
	if catalog["pro"].MinVersion != "2" {
		t.Errorf("pro MinVersion = %q", catalog["pro"].MinVersion)
	}

	feature, err := s.GetFeature(ctx, "beta")
	if err != nil {
		t.Fatalf("GetFeature() error = %v", err)
	}
	if feature.Fields["url"] != "https://api.example.com/beta" {
		t.Errorf("beta url = %q", feature.Fields["url"])
	}
}

func TestGetCatalog_Empty(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetCatalog(context.Background()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetCatalog() on empty keyspace error = %v, want ErrNotFound", err)
	}
}

func TestInstrumentedOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	s.SetInstrumentation(inst)

	// Success, not-found, and delete paths all record through record.
	if err := s.PutSession(ctx, &storage.Session{ID: "s1", UserID: "u1"}); err != nil {
		t.Fatalf("PutSession() error = %v", err)
	}
	if _, err := s.GetSession(ctx, "s1"); err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if _, err := s.GetUser(ctx, "absent"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("GetUser() error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
}
