package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hmxlabs/hmx-gateway/instrumentation"
	"github.com/hmxlabs/hmx-gateway/security"
	"github.com/hmxlabs/hmx-gateway/storage"
	"github.com/hmxlabs/hmx-gateway/storage/memory"
)

const (
	testSecret = "unit-test-service-secret"
	testNowSec = int64(1_700_000_000)
)

// seededStore returns a memory store with one session (s1 bound to h1,
// owned by u1, expiring 100s after the test clock), one user entitled
// to "pro" and "ghost" but not "beta", and a two-entry catalog.
func seededStore() *memory.Store {
	store := memory.New()
	store.PutSession(&storage.Session{ID: "s1", UserID: "u1", HardwareID: "h1", ExpiresAt: testNowSec + 100})
	store.PutSession(&storage.Session{ID: "stale", UserID: "u1", HardwareID: "h1", ExpiresAt: testNowSec - 1})
	store.PutUser(&storage.User{ID: "u1", Entitlements: map[string]bool{"pro": true, "beta": false, "ghost": true}})
	store.PutFeature("pro", storage.Feature{
		Fields:     map[string]string{"url": "https://api.example.com/pro", "token": "abc123"},
		MinVersion: "2",
	})
	store.PutFeature("beta", storage.Feature{
		Fields: map[string]string{"url": "https://api.example.com/beta"},
	})
	return store
}

func newTestHandler(t *testing.T, store storage.RecordStore, mode security.CipherMode) *Handler {
	t.Helper()

	srv, err := NewServer(store, &Config{
		Secret:     testSecret,
		CipherMode: mode,
	}, WithClock(func() time.Time { return time.Unix(testNowSec, 0) }))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	h := NewHandler(srv, nil)
	t.Cleanup(h.Close)
	return h
}

func postGetAPIs(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, endpointGetAPIs, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeSuccess(t *testing.T, rec *httptest.ResponseRecorder) *GetAPIsResponse {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp GetAPIsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return &resp
}

func decodeFailure(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	return resp
}

func TestLiveness(t *testing.T) {
	h := newTestHandler(t, seededStore(), security.CipherModeDigest)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != livenessMessage {
		t.Errorf("body = %q, want %q", got, livenessMessage)
	}
}

func TestGetAPIsCatalogMode(t *testing.T) {
	h := newTestHandler(t, seededStore(), security.CipherModeDigest)

	rec := postGetAPIs(t, h, `{"session":"s1","hwid":"h1"}`)
	resp := decodeSuccess(t, rec)

	if !resp.Success {
		t.Error("success = false")
	}
	if resp.TTL != PayloadTTLSeconds {
		t.Errorf("ttl = %d, want %d", resp.TTL, PayloadTTLSeconds)
	}
	if resp.ServerTime != testNowSec {
		t.Errorf("server_time = %d, want %d", resp.ServerTime, testNowSec)
	}

	// Only the entitled feature appears, with every field sealed.
	if len(resp.APIs) != 1 {
		t.Fatalf("apis has %d features, want 1: %v", len(resp.APIs), resp.APIs)
	}
	pro, ok := resp.APIs["pro"]
	if !ok {
		t.Fatal("apis missing pro")
	}
	if len(pro) != 2 {
		t.Fatalf("pro has %d fields, want 2", len(pro))
	}
	if pro["url"] == "https://api.example.com/pro" {
		t.Error("url field was not sealed")
	}

	// Manifest covers the whole catalog.
	if resp.App == nil {
		t.Fatal("app manifest missing in catalog mode")
	}
	if resp.App.Version != DefaultServiceVersion {
		t.Errorf("app version = %q", resp.App.Version)
	}
	if !resp.App.Features["pro"].Enabled || resp.App.Features["beta"].Enabled {
		t.Errorf("manifest flags wrong: %+v", resp.App.Features)
	}
	if resp.App.Features["pro"].MinVersion != "2" {
		t.Errorf("pro min_version = %q", resp.App.Features["pro"].MinVersion)
	}
	if resp.App.Features["beta"].MinVersion != "1" {
		t.Errorf("beta min_version = %q, want default", resp.App.Features["beta"].MinVersion)
	}
}

func TestGetAPIsSingleFeatureMode(t *testing.T) {
	h := newTestHandler(t, seededStore(), security.CipherModeDigest)

	rec := postGetAPIs(t, h, `{"session":"s1","hwid":"h1","feature":"pro"}`)
	resp := decodeSuccess(t, rec)

	if len(resp.APIs) != 1 {
		t.Fatalf("apis has %d features, want 1", len(resp.APIs))
	}
	if _, ok := resp.APIs["pro"]; !ok {
		t.Error("apis missing pro")
	}
	if resp.App != nil {
		t.Error("app manifest present in single-feature mode")
	}
}

func TestGetAPIsDigestDeterministic(t *testing.T) {
	h := newTestHandler(t, seededStore(), security.CipherModeDigest)

	first := decodeSuccess(t, postGetAPIs(t, h, `{"session":"s1","hwid":"h1"}`))
	second := decodeSuccess(t, postGetAPIs(t, h, `{"session":"s1","hwid":"h1"}`))

	if first.APIs["pro"]["url"] != second.APIs["pro"]["url"] {
		t.Error("digest mode produced different values for identical input")
	}
}

func TestGetAPIsReversibleRoundTrip(t *testing.T) {
	h := newTestHandler(t, seededStore(), security.CipherModeReversible)

	resp := decodeSuccess(t, postGetAPIs(t, h, `{"session":"s1","hwid":"h1"}`))

	// A client holding the secret re-derives the key and decrypts.
	deriver, err := security.NewKeyDeriver([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewKeyDeriver() error = %v", err)
	}
	key, err := deriver.Derive("s1", "h1")
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}

	plain, err := security.ReversibleCipher{}.Open(key, resp.APIs["pro"]["url"])
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if plain != "https://api.example.com/pro" {
		t.Errorf("decrypted url = %q", plain)
	}
}

func TestGetAPIsFailures(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantReason string
	}{
		{
			name:       "empty body",
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantReason: ReasonEmptyBody,
		},
		{
			name:       "whitespace body",
			body:       "  \n\t",
			wantStatus: http.StatusBadRequest,
			wantReason: ReasonEmptyBody,
		},
		{
			name:       "undecodable body",
			body:       `{"session":`,
			wantStatus: http.StatusBadRequest,
			wantReason: ReasonInvalidJSON,
		},
		{
			name:       "missing hwid",
			body:       `{"session":"s1"}`,
			wantStatus: http.StatusBadRequest,
			wantReason: ReasonMissingFields,
		},
		{
			name:       "missing session",
			body:       `{"hwid":"h1","feature":"pro"}`,
			wantStatus: http.StatusBadRequest,
			wantReason: ReasonMissingFields,
		},
		{
			name:       "blank session",
			body:       `{"session":"  ","hwid":"h1"}`,
			wantStatus: http.StatusBadRequest,
			wantReason: ReasonMissingFields,
		},
		{
			name:       "unknown session",
			body:       `{"session":"nope","hwid":"h1"}`,
			wantStatus: http.StatusUnauthorized,
			wantReason: ReasonInvalidSession,
		},
		{
			name:       "expired session",
			body:       `{"session":"stale","hwid":"h1"}`,
			wantStatus: http.StatusUnauthorized,
			wantReason: ReasonSessionExpired,
		},
		{
			name:       "expired wins over hwid mismatch",
			body:       `{"session":"stale","hwid":"h2"}`,
			wantStatus: http.StatusUnauthorized,
			wantReason: ReasonSessionExpired,
		},
		{
			name:       "hwid mismatch",
			body:       `{"session":"s1","hwid":"h2"}`,
			wantStatus: http.StatusForbidden,
			wantReason: ReasonHardwareMismatch,
		},
		{
			name:       "forbidden feature",
			body:       `{"session":"s1","hwid":"h1","feature":"beta"}`,
			wantStatus: http.StatusForbidden,
			wantReason: ReasonFeatureForbidden,
		},
		{
			name:       "entitled feature without catalog entry",
			body:       `{"session":"s1","hwid":"h1","feature":"ghost"}`,
			wantStatus: http.StatusNotFound,
			wantReason: ReasonFeatureNotFound,
		},
	}

	h := newTestHandler(t, seededStore(), security.CipherModeDigest)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postGetAPIs(t, h, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			resp := decodeFailure(t, rec)
			if resp.Success {
				t.Error("success = true on failure")
			}
			if resp.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", resp.Reason, tt.wantReason)
			}
		})
	}
}

// faultyStore fails catalog loads; everything else delegates.
type faultyStore struct {
	*memory.Store
}

func (f *faultyStore) GetCatalog(context.Context) (storage.Catalog, error) {
	return nil, fmt.Errorf("upstream unreachable")
}

func TestGetAPIsCatalogUnreachable(t *testing.T) {
	h := newTestHandler(t, &faultyStore{Store: seededStore()}, security.CipherModeDigest)

	rec := postGetAPIs(t, h, `{"session":"s1","hwid":"h1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp := decodeFailure(t, rec); resp.Reason != ReasonDataLoadFailed {
		t.Errorf("reason = %q, want %q", resp.Reason, ReasonDataLoadFailed)
	}
}

// panickyStore panics on user loads to exercise top-level recovery.
type panickyStore struct {
	*memory.Store
}

func (p *panickyStore) GetUser(context.Context, string) (*storage.User, error) {
	panic("store exploded")
}

func TestPanicRecovery(t *testing.T) {
	h := newTestHandler(t, &panickyStore{Store: seededStore()}, security.CipherModeDigest)

	rec := postGetAPIs(t, h, `{"session":"s1","hwid":"h1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp := decodeFailure(t, rec); resp.Reason != ReasonInternalError {
		t.Errorf("reason = %q, want %q", resp.Reason, ReasonInternalError)
	}
}

func TestRateLimit(t *testing.T) {
	srv, err := NewServer(seededStore(), &Config{
		Secret: testSecret,
		RateLimit: RateLimitConfig{
			Rate:  1,
			Burst: 1,
		},
	}, WithClock(func() time.Time { return time.Unix(testNowSec, 0) }))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	h := NewHandler(srv, nil)
	t.Cleanup(h.Close)

	if rec := postGetAPIs(t, h, `{"session":"s1","hwid":"h1"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec := postGetAPIs(t, h, `{"session":"s1","hwid":"h1"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if resp := decodeFailure(t, rec); resp.Reason != ReasonRateLimited {
		t.Errorf("reason = %q, want %q", resp.Reason, ReasonRateLimited)
	}
}

func TestRateLimitRateWithoutBurst(t *testing.T) {
	srv, err := NewServer(seededStore(), &Config{
		Secret:    testSecret,
		RateLimit: RateLimitConfig{Rate: 1},
	}, WithClock(func() time.Time { return time.Unix(testNowSec, 0) }))
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	h := NewHandler(srv, nil)
	t.Cleanup(h.Close)

	// Rate without an explicit burst must still admit traffic.
	if rec := postGetAPIs(t, h, `{"session":"s1","hwid":"h1"}`); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	h := newTestHandler(t, seededStore(), security.CipherModeDigest)

	rec := postGetAPIs(t, h, `{"session":"s1","hwid":"h1"}`)
	if rec.Header().Get(security.RequestIDHeader) == "" {
		t.Error("response missing request ID header")
	}
}

func TestGetAPIsInstrumented(t *testing.T) {
	inst, err := instrumentation.New(instrumentation.Config{ServiceName: "test"})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}

	srv, err := NewServer(seededStore(), &Config{
		Secret:     testSecret,
		CipherMode: security.CipherModeDigest,
	},
		WithClock(func() time.Time { return time.Unix(testNowSec, 0) }),
		WithInstrumentation(inst),
	)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	h := NewHandler(srv, nil)
	t.Cleanup(h.Close)

	// Success, client rejection, and server error all annotate the span
	// and must leave the wire envelope exactly as without telemetry.
	resp := decodeSuccess(t, postGetAPIs(t, h, `{"session":"s1","hwid":"h1"}`))
	if !resp.Success {
		t.Error("success = false")
	}

	rec := postGetAPIs(t, h, `{"session":"nope","hwid":"h1"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if got := decodeFailure(t, rec).Reason; got != ReasonInvalidSession {
		t.Errorf("reason = %q, want %q", got, ReasonInvalidSession)
	}

	h2 := NewHandler(mustServer(t, &faultyStore{Store: seededStore()}, inst), nil)
	t.Cleanup(h2.Close)
	rec = postGetAPIs(t, h2, `{"session":"s1","hwid":"h1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func mustServer(t *testing.T, store storage.RecordStore, inst *instrumentation.Instrumentation) *Server {
	t.Helper()
	srv, err := NewServer(store, &Config{
		Secret:     testSecret,
		CipherMode: security.CipherModeDigest,
	},
		WithClock(func() time.Time { return time.Unix(testNowSec, 0) }),
		WithInstrumentation(inst),
	)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}
