package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/hmxlabs/hmx-gateway/instrumentation"
	"github.com/hmxlabs/hmx-gateway/storage"
)

func TestSessionRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.PutSession(&storage.Session{ID: "s1", UserID: "u1", HardwareID: "h1", ExpiresAt: 100})

	session, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if session.UserID != "u1" || session.HardwareID != "h1" || session.ExpiresAt != 100 {
		t.Errorf("GetSession() = %+v", session)
	}

	// Mutating the returned copy must not affect the store.
	session.HardwareID = "tampered"
	again, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if again.HardwareID != "h1" {
		t.Errorf("store mutated through returned copy: hwid = %q", again.HardwareID)
	}
}

func TestGetSession_Missing(t *testing.T) {
	s := New()
	if _, err := s.GetSession(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetSession() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteSession(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.PutSession(&storage.Session{ID: "s1"})
	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := s.GetSession(ctx, "s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("session survived delete: err = %v", err)
	}

	// Absent delete is not an error.
	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Errorf("DeleteSession() on absent session error = %v", err)
	}
}

func TestListSessions(t *testing.T) {
	s := New()
	s.PutSession(&storage.Session{ID: "s1"})
	s.PutSession(&storage.Session{ID: "s2"})

	sessions, err := s.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("ListSessions() returned %d sessions, want 2", len(sessions))
	}
}

func TestUserAndCatalog(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.PutUser(&storage.User{ID: "u1", Entitlements: map[string]bool{"pro": true}})
	s.PutFeature("pro", storage.Feature{Fields: map[string]string{"url": "https://x"}, MinVersion: "2"})

	user, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if !user.Entitled("pro") {
		t.Error("Entitled(pro) = false")
	}

	catalog, err := s.GetCatalog(ctx)
	if err != nil {
		t.Fatalf("GetCatalog() error = %v", err)
	}
	if catalog["pro"].MinVersion != "2" {
		t.Errorf("catalog pro MinVersion = %q", catalog["pro"].MinVersion)
	}

	feature, err := s.GetFeature(ctx, "pro")
	if err != nil {
		t.Fatalf("GetFeature() error = %v", err)
	}
	if feature.Fields["url"] != "https://x" {
		t.Errorf("feature url = %q", feature.Fields["url"])
	}

	if _, err := s.GetFeature(ctx, "absent"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetFeature(absent) error = %v, want ErrNotFound", err)
	}
}

func TestInstrumentedOperations(t *testing.T) {
	s := New()
	ctx := context.Background()

	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	s.SetInstrumentation(inst)

	// Success, not-found, and delete paths all record through record.
	s.PutSession(&storage.Session{ID: "s1", UserID: "u1"})
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
