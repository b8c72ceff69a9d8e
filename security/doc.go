// Package security provides the cryptographic and hardening primitives for
// the gateway: per-request key derivation, field ciphers (digest and
// reversible modes), per-IP rate limiting, request IDs, secure response
// headers, and audit logging.
package security
