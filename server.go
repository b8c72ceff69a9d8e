package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hmxlabs/hmx-gateway/entitlement"
	"github.com/hmxlabs/hmx-gateway/instrumentation"
	"github.com/hmxlabs/hmx-gateway/security"
	"github.com/hmxlabs/hmx-gateway/session"
	"github.com/hmxlabs/hmx-gateway/storage"
)

// Server runs the request pipeline: session validation, entitlement
// filtering, key derivation, field sealing, and envelope assembly. It
// holds no per-request state; every request re-fetches fresh records.
type Server struct {
	store     storage.RecordStore
	validator *session.Validator
	deriver   *security.KeyDeriver
	cipher    security.FieldCipher
	auditor   *security.Auditor
	inst      *instrumentation.Instrumentation
	logger    *slog.Logger
	config    *Config
	now       func() time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithInstrumentation attaches OpenTelemetry metrics and tracing.
func WithInstrumentation(inst *instrumentation.Instrumentation) ServerOption {
	return func(s *Server) { s.inst = inst }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a gateway server over the given record store.
func NewServer(store storage.RecordStore, config *Config, opts ...ServerOption) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	deriver, err := security.NewKeyDeriver([]byte(config.Secret))
	if err != nil {
		return nil, fmt.Errorf("key deriver: %w", err)
	}
	cipher, err := security.NewFieldCipher(config.CipherMode)
	if err != nil {
		return nil, fmt.Errorf("field cipher: %w", err)
	}

	s := &Server{
		store:   store,
		deriver: deriver,
		cipher:  cipher,
		auditor: security.NewAuditor(config.Logger, config.EnableAuditLogging),
		logger:  config.Logger,
		config:  config,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	// The validator shares the server clock so tests can pin both.
	clock := s.now
	s.validator, err = session.NewValidator(store,
		session.WithClock(func() time.Time { return clock() }),
		session.WithLogger(config.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}

	return s, nil
}

// Auditor returns the server's audit logger.
func (s *Server) Auditor() *security.Auditor {
	return s.auditor
}

// GetAPIs runs the full pipeline for one request. The clientIP is used
// only for audit logging. Record-store failures are reported the same
// way as missing records; the store contract cannot tell them apart.
func (s *Server) GetAPIs(ctx context.Context, req *GetAPIsRequest, clientIP string) (*GetAPIsResponse, *APIError) {
	userID, err := s.validator.Validate(ctx, req.Session, req.HardwareID)
	if err != nil {
		apiErr := s.mapSessionError(err)
		s.auditor.LogSessionRejected(req.Session, req.HardwareID, clientIP, apiErr.Reason)
		if s.inst != nil {
			s.inst.Metrics().RecordSessionRejected(ctx, apiErr.Reason)
		}
		return nil, apiErr
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.logger.Error("user record load failed", "user_id", userID, "error", err)
		return nil, ErrDataLoadFailed("user record unavailable")
	}

	catalog, err := s.store.GetCatalog(ctx)
	if err != nil {
		s.logger.Error("feature catalog load failed", "error", err)
		return nil, ErrDataLoadFailed("feature catalog unavailable")
	}

	key, err := s.deriver.Derive(req.Session, req.HardwareID)
	if err != nil {
		s.logger.Error("field key derivation failed", "user_id", userID, "error", err)
		return nil, ErrCryptoError("key derivation failed")
	}

	resp := &GetAPIsResponse{
		Success:    true,
		TTL:        PayloadTTLSeconds,
		ServerTime: s.now().Unix(),
	}

	if req.Feature != "" {
		feature, ferr := entitlement.FilterOne(user, req.Feature, catalog)
		if ferr != nil {
			apiErr := s.mapFeatureError(ferr, req.Feature)
			if apiErr.Reason == ReasonFeatureForbidden {
				s.auditor.LogFeatureDenied(userID, req.Feature, clientIP)
			}
			if s.inst != nil {
				s.inst.Metrics().RecordFeatureDenied(ctx, apiErr.Reason)
			}
			return nil, apiErr
		}

		sealed, serr := s.sealFields(ctx, key, req.Feature, feature.Fields)
		if serr != nil {
			s.logger.Error("field sealing failed", "feature", req.Feature, "error", serr)
			return nil, ErrCryptoError("field sealing failed")
		}
		resp.APIs = map[string]map[string]string{req.Feature: sealed}
	} else {
		granted, manifest := entitlement.FilterCatalog(user, catalog)

		resp.APIs = make(map[string]map[string]string, len(granted))
		for featureKey, feature := range granted {
			sealed, serr := s.sealFields(ctx, key, featureKey, feature.Fields)
			if serr != nil {
				s.logger.Error("field sealing failed", "feature", featureKey, "error", serr)
				return nil, ErrCryptoError("field sealing failed")
			}
			resp.APIs[featureKey] = sealed
		}
		resp.App = &AppManifest{
			Features: manifest,
			Version:  s.config.ServiceVersion,
		}
	}

	s.auditor.LogPayloadIssued(userID, clientIP, len(resp.APIs), string(s.cipher.Mode()))
	if s.inst != nil {
		s.inst.Metrics().RecordPayloadIssued(ctx, string(s.cipher.Mode()), len(resp.APIs))
	}
	return resp, nil
}

// sealFields seals every field of one feature under the derived key.
func (s *Server) sealFields(ctx context.Context, key []byte, featureKey string, fields map[string]string) (map[string]string, error) {
	sealed := make(map[string]string, len(fields))
	for name, value := range fields {
		start := time.Now()
		out, err := s.cipher.Seal(key, name, value)
		if err != nil {
			return nil, fmt.Errorf("seal %s.%s: %w", featureKey, name, err)
		}
		if s.inst != nil {
			s.inst.Metrics().RecordSealOperation(ctx, string(s.cipher.Mode()), float64(time.Since(start).Nanoseconds())/1e6)
		}
		sealed[name] = out
	}
	return sealed, nil
}

func (s *Server) mapSessionError(err error) *APIError {
	switch {
	case errors.Is(err, session.ErrExpired):
		return ErrSessionExpired("session expiry has passed")
	case errors.Is(err, session.ErrHardwareMismatch):
		return ErrHardwareMismatch("hardware identifier does not match session binding")
	case errors.Is(err, session.ErrInvalidSession):
		return ErrInvalidSession("no usable session record")
	default:
		return ErrInternalError("session validation failed")
	}
}

func (s *Server) mapFeatureError(err error, featureKey string) *APIError {
	switch {
	case errors.Is(err, entitlement.ErrForbidden):
		return ErrFeatureForbidden(fmt.Sprintf("not entitled to feature %q", featureKey))
	case errors.Is(err, entitlement.ErrNotFound):
		return ErrFeatureNotFound(fmt.Sprintf("feature %q has no catalog entry", featureKey))
	default:
		return ErrInternalError("feature resolution failed")
	}
}
