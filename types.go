package gateway

import (
	"github.com/hmxlabs/hmx-gateway/entitlement"
)

// PayloadTTLSeconds is the advisory freshness window returned with every
// successful payload. Clients should re-request after it elapses; the
// server enforces nothing beyond session expiry.
const PayloadTTLSeconds = 30

// GetAPIsRequest is the JSON body of POST /hmx/get-apis.
type GetAPIsRequest struct {
	Session    string `json:"session"`
	HardwareID string `json:"hwid"`

	// Feature, when set, switches the request to single-feature mode:
	// only this feature is resolved and the app manifest is omitted.
	Feature string `json:"feature,omitempty"`
}

// AppManifest is the client-side feature-gating block emitted in
// catalog mode. It covers every catalog entry, entitled or not.
type AppManifest struct {
	Features entitlement.Manifest `json:"features"`
	Version  string               `json:"version"`
}

// GetAPIsResponse is the success envelope of POST /hmx/get-apis. APIs
// maps each granted feature key to its sealed field values.
type GetAPIsResponse struct {
	Success    bool                         `json:"success"`
	TTL        int                          `json:"ttl"`
	APIs       map[string]map[string]string `json:"apis"`
	App        *AppManifest                 `json:"app,omitempty"`
	ServerTime int64                        `json:"server_time"`
}

// errorResponse is the failure envelope. Only the reason code crosses
// the wire; descriptions stay in logs.
type errorResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}
