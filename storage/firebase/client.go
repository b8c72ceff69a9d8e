package firebase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hmxlabs/hmx-gateway/instrumentation"
	"github.com/hmxlabs/hmx-gateway/storage"
)

const (
	// defaultTimeout bounds a single store round trip. The upstream spec
	// left the transport default in place; a few seconds is a documented
	// hardening deviation.
	defaultTimeout = 10 * time.Second

	// maxResponseSize caps document bodies (1 MB) to prevent memory
	// exhaustion from a misbehaving upstream.
	maxResponseSize = 1 << 20

	// minVersionField is the reserved catalog field carrying the minimum
	// client version. It is never part of the encrypted payload.
	minVersionField = "min_version"
)

// Client is a RecordStore backed by a path-addressable JSON store.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	inst    *instrumentation.Instrumentation
	tracer  trace.Tracer
}

var _ storage.RecordStore = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (timeouts, transport
// middleware, test doubles).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a store client for the given base URL. The base URL is
// required and trailing slashes are stripped.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("firebase: base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("firebase: invalid base URL: %w", err)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetInstrumentation attaches OpenTelemetry metrics and tracing for store
// operations. Call it once after construction.
func (c *Client) SetInstrumentation(inst *instrumentation.Instrumentation) {
	c.inst = inst
	if inst != nil {
		c.tracer = inst.Tracer("storage")
	}
}

// observe opens a span for one store operation and returns the callback
// that records its outcome. The callback is cheap when instrumentation is
// absent, so call sites stay unconditional.
func (c *Client) observe(ctx context.Context, op string) (context.Context, func(error)) {
	if c.inst == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "storage."+op)
		instrumentation.AddStorageAttributes(span, op, "firebase")
	}

	return ctx, func(err error) {
		result := "success"
		switch {
		case errors.Is(err, storage.ErrNotFound):
			result = "not_found"
		case err != nil:
			result = "error"
		}
		c.inst.Metrics().RecordStorageOperation(ctx, op, result, float64(time.Since(start).Nanoseconds())/1e6)

		if span != nil {
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				instrumentation.RecordError(span, err)
			} else {
				instrumentation.SetSpanSuccess(span)
			}
			span.End()
		}
	}
}

// fetch issues a GET against <base>/<path>.json and decodes the document
// into dst. Non-2xx responses and JSON "null" documents both map to
// storage.ErrNotFound.
func (c *Client) fetch(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.docURL(path), nil)
	if err != nil {
		return fmt.Errorf("firebase: build request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Record fetch failed", "path", path, "error", err)
		return storage.ErrNotFound
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		c.logger.Debug("Record fetch non-success", "path", path, "status", res.StatusCode)
		return storage.ErrNotFound
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		c.logger.Warn("Record body read failed", "path", path, "error", err)
		return storage.ErrNotFound
	}

	// The REST layout answers 200 with the literal "null" for absent paths.
	if trimmed := strings.TrimSpace(string(body)); trimmed == "" || trimmed == "null" {
		return storage.ErrNotFound
	}

	if err := json.Unmarshal(body, dst); err != nil {
		c.logger.Warn("Record decode failed", "path", path, "error", err)
		return storage.ErrNotFound
	}
	return nil
}

// delete issues a DELETE against <base>/<path>.json. Errors are returned
// for logging but carry no retry semantics.
func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.docURL(path), nil)
	if err != nil {
		return fmt.Errorf("firebase: build request: %w", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("firebase: delete %s: %w", path, err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseSize)) //nolint:errcheck

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("firebase: delete %s: status %d", path, res.StatusCode)
	}
	return nil
}

func (c *Client) docURL(path string) string {
	return c.baseURL + "/" + path + ".json"
}

// GetSession retrieves sessions/{sessionID}.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*storage.Session, error) {
	ctx, done := c.observe(ctx, "get_session")
	var doc sessionDoc
	err := c.fetch(ctx, "sessions/"+url.PathEscape(sessionID), &doc)
	done(err)
	if err != nil {
		return nil, err
	}
	s := doc.toSession()
	s.ID = sessionID
	return s, nil
}

// ListSessions retrieves the whole sessions collection. An absent
// collection (the store answers "null" once every session is gone) is an
// empty list, not an error.
func (c *Client) ListSessions(ctx context.Context) ([]*storage.Session, error) {
	ctx, done := c.observe(ctx, "list_sessions")
	var docs map[string]sessionDoc
	err := c.fetch(ctx, "sessions", &docs)
	if errors.Is(err, storage.ErrNotFound) {
		err = nil
	}
	done(err)
	if err != nil {
		return nil, err
	}

	sessions := make([]*storage.Session, 0, len(docs))
	for id, doc := range docs {
		s := doc.toSession()
		s.ID = id
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// DeleteSession removes sessions/{sessionID}.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, done := c.observe(ctx, "delete_session")
	err := c.delete(ctx, "sessions/"+url.PathEscape(sessionID))
	done(err)
	return err
}

// GetUser retrieves users/{userID}. The document is a flat mapping of
// feature key to entitlement flag.
func (c *Client) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	ctx, done := c.observe(ctx, "get_user")
	var flags map[string]bool
	err := c.fetch(ctx, "users/"+url.PathEscape(userID), &flags)
	done(err)
	if err != nil {
		return nil, err
	}
	return &storage.User{ID: userID, Entitlements: flags}, nil
}

// GetCatalog retrieves the apis collection.
func (c *Client) GetCatalog(ctx context.Context) (storage.Catalog, error) {
	ctx, done := c.observe(ctx, "get_catalog")
	var docs map[string]featureDoc
	err := c.fetch(ctx, "apis", &docs)
	done(err)
	if err != nil {
		return nil, err
	}

	catalog := make(storage.Catalog, len(docs))
	for key, doc := range docs {
		catalog[key] = doc.toFeature()
	}
	return catalog, nil
}

// GetFeature retrieves apis/{featureKey}.
func (c *Client) GetFeature(ctx context.Context, featureKey string) (*storage.Feature, error) {
	ctx, done := c.observe(ctx, "get_feature")
	var doc featureDoc
	err := c.fetch(ctx, "apis/"+url.PathEscape(featureKey), &doc)
	done(err)
	if err != nil {
		return nil, err
	}
	f := doc.toFeature()
	return &f, nil
}

// sessionDoc is the wire shape of a session record.
type sessionDoc struct {
	UserID     string `json:"id"`
	HardwareID string `json:"hwid"`
	ExpiresAt  int64  `json:"expires"`
}

func (d sessionDoc) toSession() *storage.Session {
	return &storage.Session{
		UserID:     d.UserID,
		HardwareID: d.HardwareID,
		ExpiresAt:  d.ExpiresAt,
	}
}

// featureDoc is the wire shape of a catalog entry: arbitrary named fields
// with an optional reserved min_version entry. Non-string scalars are
// stringified the way the historical store variants did.
type featureDoc map[string]any

func (d featureDoc) toFeature() storage.Feature {
	f := storage.Feature{Fields: make(map[string]string, len(d))}
	for name, value := range d {
		text, ok := scalarString(value)
		if !ok {
			continue
		}
		if name == minVersionField {
			f.MinVersion = text
			continue
		}
		f.Fields[name] = text
	}
	return f
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
