package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// CipherMode selects how entitled feature fields are transformed before
// they leave the server. One mode per deployment.
type CipherMode string

const (
	// CipherModeDigest emits a keyed HMAC-SHA256 hex digest per field.
	// One-way: the client recomputes and compares, it cannot read the
	// value. Suited to anti-tamper tokens.
	CipherModeDigest CipherMode = "digest"

	// CipherModeReversible encrypts each field under AES-256-GCM with a
	// random nonce prepended to the ciphertext, base64-encoded. The client
	// derives the same key and decrypts. Required when the payload must be
	// read (live endpoint URLs and the like).
	CipherModeReversible CipherMode = "reversible"
)

// Valid reports whether the mode is one of the supported variants.
func (m CipherMode) Valid() bool {
	return m == CipherModeDigest || m == CipherModeReversible
}

// FieldCipher transforms one feature field value under a derived key.
type FieldCipher interface {
	// Seal transforms the field value into its transport encoding.
	// Primitive failures are fatal for the request, never skipped.
	Seal(key []byte, fieldName, fieldValue string) (string, error)

	// Mode identifies the cipher variant.
	Mode() CipherMode
}

// NewFieldCipher returns the cipher for the configured mode.
func NewFieldCipher(mode CipherMode) (FieldCipher, error) {
	switch mode {
	case CipherModeDigest:
		return DigestCipher{}, nil
	case CipherModeReversible:
		return ReversibleCipher{}, nil
	default:
		return nil, fmt.Errorf("unsupported cipher mode %q", mode)
	}
}

// DigestCipher implements the one-way digest mode.
type DigestCipher struct{}

// Seal computes HMAC-SHA256(key, fieldName||0x00||fieldValue) and returns
// the lowercase hex digest. Binding the field name prevents digests from
// being swapped between fields of the same feature.
func (DigestCipher) Seal(key []byte, fieldName, fieldValue string) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("derived key must be %d bytes, got %d", KeySize, len(key))
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(fieldName))
	mac.Write([]byte{0x00})
	mac.Write([]byte(fieldValue))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Mode returns CipherModeDigest.
func (DigestCipher) Mode() CipherMode { return CipherModeDigest }

// ReversibleCipher implements the readable AES-256-GCM mode.
type ReversibleCipher struct{}

// Seal encrypts the UTF-8 field value under AES-256-GCM. The random nonce
// is prepended to the ciphertext and the concatenation base64-encoded.
func (ReversibleCipher) Seal(key []byte, _, fieldValue string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal prepends the nonce by using the nonce slice as destination,
	// producing the transport format: [nonce][ciphertext].
	ciphertext := gcm.Seal(nonce, nonce, []byte(fieldValue), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Mode returns CipherModeReversible.
func (ReversibleCipher) Mode() CipherMode { return CipherModeReversible }

// Open decrypts a value produced by ReversibleCipher.Seal. Exists so
// deployments can verify payloads end to end; the request path never
// decrypts.
func (ReversibleCipher) Open(key []byte, encoded string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("derived key must be %d bytes for AES-256, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
