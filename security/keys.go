package security

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the derived key length in bytes (AES-256 / HMAC-SHA256).
const KeySize = 32

// keyDerivationInfo domain-separates gateway keys from any other use of
// the same secret.
const keyDerivationInfo = "hmx-gateway/v1/field-key"

// KeyDeriver derives per-request symmetric keys from the session and
// hardware identifiers, salted with the static service secret.
//
// The derivation is deterministic: a legitimate client holding the same
// (sessionID, hardwareID, secret) reproduces the identical key. The key is
// ephemeral: computed per request, never persisted.
type KeyDeriver struct {
	secret []byte
}

// NewKeyDeriver creates a key deriver. The service secret is required.
func NewKeyDeriver(secret []byte) (*KeyDeriver, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("service secret is required")
	}
	return &KeyDeriver{secret: secret}, nil
}

// Derive computes the request key via HKDF-SHA256 with the service secret
// as salt and sessionID||0x00||hardwareID as input keying material. The
// separator prevents (sessionID, hardwareID) pairs with shifted boundaries
// from colliding.
func (d *KeyDeriver) Derive(sessionID, hardwareID string) ([]byte, error) {
	if sessionID == "" || hardwareID == "" {
		return nil, fmt.Errorf("sessionID and hardwareID are required")
	}

	ikm := make([]byte, 0, len(sessionID)+1+len(hardwareID))
	ikm = append(ikm, sessionID...)
	ikm = append(ikm, 0x00)
	ikm = append(ikm, hardwareID...)

	r := hkdf.New(sha256.New, ikm, d.secret, []byte(keyDerivationInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
