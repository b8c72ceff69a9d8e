package gateway

import (
	"fmt"
	"net/http"
)

// Wire reason codes carried in the failure envelope.
const (
	ReasonEmptyBody        = "EMPTY_BODY"
	ReasonInvalidJSON      = "INVALID_JSON"
	ReasonMissingFields    = "MISSING_FIELDS"
	ReasonInvalidSession   = "INVALID_SESSION"
	ReasonSessionExpired   = "SESSION_EXPIRED"
	ReasonHardwareMismatch = "HWID_MISMATCH"
	ReasonDataLoadFailed   = "DATA_LOAD_FAILED"
	ReasonFeatureForbidden = "FEATURE_FORBIDDEN"
	ReasonFeatureNotFound  = "FEATURE_NOT_FOUND"
	ReasonCryptoError      = "CRYPTO_ERROR"
	ReasonRateLimited      = "RATE_LIMITED"
	ReasonInternalError    = "INTERNAL_ERROR"
)

// APIError is a request failure that maps to a wire reason code and an
// HTTP status. The description is for logs only; clients see just the
// reason.
type APIError struct {
	Reason      string // wire reason code (e.g. "SESSION_EXPIRED")
	Description string // human-readable detail, never sent to clients
	Status      int    // HTTP status code
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Description)
}

// NewAPIError creates a new API error.
func NewAPIError(reason, description string, status int) *APIError {
	return &APIError{
		Reason:      reason,
		Description: description,
		Status:      status,
	}
}

// Common API errors as reusable constructors.
var (
	// ErrEmptyBody indicates the request carried no body at all.
	ErrEmptyBody = func(desc string) *APIError {
		return NewAPIError(ReasonEmptyBody, desc, http.StatusBadRequest)
	}

	// ErrInvalidJSON indicates the request body could not be decoded.
	ErrInvalidJSON = func(desc string) *APIError {
		return NewAPIError(ReasonInvalidJSON, desc, http.StatusBadRequest)
	}

	// ErrMissingFields indicates session or hwid was absent or blank.
	ErrMissingFields = func(desc string) *APIError {
		return NewAPIError(ReasonMissingFields, desc, http.StatusBadRequest)
	}

	// ErrInvalidSession indicates no usable session record was found.
	ErrInvalidSession = func(desc string) *APIError {
		return NewAPIError(ReasonInvalidSession, desc, http.StatusUnauthorized)
	}

	// ErrSessionExpired indicates the session's expiry has passed.
	ErrSessionExpired = func(desc string) *APIError {
		return NewAPIError(ReasonSessionExpired, desc, http.StatusUnauthorized)
	}

	// ErrHardwareMismatch indicates the supplied hwid does not match the
	// one the session is bound to.
	ErrHardwareMismatch = func(desc string) *APIError {
		return NewAPIError(ReasonHardwareMismatch, desc, http.StatusForbidden)
	}

	// ErrDataLoadFailed indicates a required record could not be loaded
	// from the store.
	ErrDataLoadFailed = func(desc string) *APIError {
		return NewAPIError(ReasonDataLoadFailed, desc, http.StatusInternalServerError)
	}

	// ErrFeatureForbidden indicates the user is not entitled to the
	// requested feature.
	ErrFeatureForbidden = func(desc string) *APIError {
		return NewAPIError(ReasonFeatureForbidden, desc, http.StatusForbidden)
	}

	// ErrFeatureNotFound indicates the requested feature key has no
	// catalog entry.
	ErrFeatureNotFound = func(desc string) *APIError {
		return NewAPIError(ReasonFeatureNotFound, desc, http.StatusNotFound)
	}

	// ErrCryptoError indicates key derivation or field sealing failed.
	ErrCryptoError = func(desc string) *APIError {
		return NewAPIError(ReasonCryptoError, desc, http.StatusInternalServerError)
	}

	// ErrRateLimited indicates the client exceeded the per-IP rate limit.
	ErrRateLimited = func(desc string) *APIError {
		return NewAPIError(ReasonRateLimited, desc, http.StatusTooManyRequests)
	}

	// ErrInternalError is the catch-all for unexpected failures.
	ErrInternalError = func(desc string) *APIError {
		return NewAPIError(ReasonInternalError, desc, http.StatusInternalServerError)
	}
)
