package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. Session and
// hardware identifiers are hashed before they reach the log stream.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a security auditor.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// Audit event types.
const (
	EventSessionRejected   = "session_rejected"
	EventFeatureDenied     = "feature_denied"
	EventPayloadIssued     = "payload_issued"
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventSessionSwept      = "session_swept"
)

// Event represents a security audit event.
type Event struct {
	Type       string
	SessionID  string
	HardwareID string
	UserID     string
	IPAddress  string
	Details    map[string]any
	Timestamp  time.Time
}

// LogEvent logs a security event with hashed identifiers.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"session_hash", hashForLogging(event.SessionID),
		"hwid_hash", hashForLogging(event.HardwareID),
		"user_id_hash", hashForLogging(event.UserID),
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogSessionRejected logs a failed session validation with its reason.
func (a *Auditor) LogSessionRejected(sessionID, hardwareID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:       EventSessionRejected,
		SessionID:  sessionID,
		HardwareID: hardwareID,
		IPAddress:  ipAddress,
		Details:    map[string]any{"reason": reason},
	})
}

// LogFeatureDenied logs a single-feature request the user is not entitled to.
func (a *Auditor) LogFeatureDenied(userID, featureKey, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventFeatureDenied,
		UserID:    userID,
		IPAddress: ipAddress,
		Details:   map[string]any{"feature": featureKey},
	})
}

// LogPayloadIssued logs a successful entitlement payload delivery.
func (a *Auditor) LogPayloadIssued(userID, ipAddress string, featureCount int, mode string) {
	a.LogEvent(Event{
		Type:      EventPayloadIssued,
		UserID:    userID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"feature_count": featureCount,
			"cipher_mode":   mode,
		},
	})
}

// LogRateLimitExceeded logs a rate-limited request.
func (a *Auditor) LogRateLimitExceeded(ipAddress string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
	})
}

// LogSessionSwept logs an expired session removed by the sweep.
func (a *Auditor) LogSessionSwept(sessionID string, expiresAt int64) {
	a.LogEvent(Event{
		Type:      EventSessionSwept,
		SessionID: sessionID,
		Details:   map[string]any{"expired_at": expiresAt},
	})
}

// hashForLogging returns a short SHA-256 prefix of an identifier, keeping
// logs correlatable without storing the raw credential.
func hashForLogging(value string) string {
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}
