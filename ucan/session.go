package ucan

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// ErrNoSigningKey indicates session key material that cannot sign
// (missing or non-Ed25519 private key).
var ErrNoSigningKey = errors.New("ucan: session key cannot sign")

// SessionKey is the short-lived key material derived from a root proof
// by the wallet provider. It lives in memory only and is never
// persisted; the session cache owns its freshness window.
type SessionKey struct {
	// DID is the did:key identity of the session key. The root proof's
	// audience must match it.
	DID string `json:"did"`

	// Key holds the Ed25519 private key as a JWK.
	Key jose.JSONWebKey `json:"key"`

	// ExpiresAt is the session's own expiry in epoch milliseconds, or 0
	// when the provider did not report one.
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// Signer extracts the Ed25519 private key for invocation-token signing.
func (k *SessionKey) Signer() (ed25519.PrivateKey, error) {
	if k == nil {
		return nil, ErrNoSigningKey
	}
	priv, ok := k.Key.Key.(ed25519.PrivateKey)
	if !ok {
		return nil, ErrNoSigningKey
	}
	return priv, nil
}

// Public returns the session's Ed25519 public key, for verification in
// tests and tooling.
func (k *SessionKey) Public() (ed25519.PublicKey, error) {
	priv, err := k.Signer()
	if err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}

// FreshAt reports whether the session's own expiry (if any) is still at
// least skew away at now. Sessions without an expiry report true; their
// freshness is governed by the cache's fixed window instead.
func (k *SessionKey) FreshAt(now time.Time, skew time.Duration) bool {
	if k == nil {
		return false
	}
	if k.ExpiresAt <= 0 {
		return true
	}
	expiresAt := NormalizeExpiryMillis(k.ExpiresAt)
	return expiresAt-skew.Milliseconds() > now.UnixMilli()
}
