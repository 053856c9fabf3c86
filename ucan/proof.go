package ucan

import (
	"errors"
	"time"
)

// Validation failures for a root proof. Each names the first check that
// failed; callers use errors.Is to decide whether the stored proof must
// be cleared and re-issued.
var (
	ErrRootMissing        = errors.New("ucan: root proof missing")
	ErrRootExpired        = errors.New("ucan: root proof expired")
	ErrIssuerMismatch     = errors.New("ucan: root proof issuer mismatch")
	ErrAudienceMismatch   = errors.New("ucan: root proof audience mismatch")
	ErrCapabilityMismatch = errors.New("ucan: root proof capability mismatch")
)

// RootProof is a wallet-issued root authorization: a capability-scoped,
// time-bounded credential naming the wallet-derived issuer and the
// backend audience. The Token field carries the signed encoding exactly
// as produced by the wallet; the client never re-signs or mutates it.
type RootProof struct {
	Issuer       string       `json:"iss"`
	Audience     string       `json:"aud,omitempty"`
	ExpiresAt    int64        `json:"exp"` // epoch milliseconds
	Capabilities []Capability `json:"cap"`
	Token        string       `json:"token,omitempty"`
}

// NormalizeExpiryMillis converts a second-precision expiry to
// milliseconds. Wallet providers are inconsistent about units; any
// value below 1e12 is treated as seconds.
func NormalizeExpiryMillis(exp int64) int64 {
	if exp > 0 && exp < 1e12 {
		return exp * 1000
	}
	return exp
}

// Expired reports whether the proof's expiry has elapsed at now.
func (p *RootProof) Expired(now time.Time) bool {
	return NormalizeExpiryMillis(p.ExpiresAt) <= now.UnixMilli()
}

// CapsKey returns the canonical key of the proof's capability set.
func (p *RootProof) CapsKey() string {
	return CapsKey(p.Capabilities)
}

// Validate checks the proof against the currently connected account and
// the deployment's required root capability key. A nil proof fails with
// ErrRootMissing. account may be empty, in which case the issuer check
// is skipped (used while no account is persisted yet).
func (p *RootProof) Validate(account, requiredCapsKey string, now time.Time) error {
	if p == nil {
		return ErrRootMissing
	}
	if p.Expired(now) {
		return ErrRootExpired
	}
	if account != "" && p.Issuer != IssuerDID(account) {
		return ErrIssuerMismatch
	}
	if p.CapsKey() != requiredCapsKey {
		return ErrCapabilityMismatch
	}
	return nil
}

// ValidateAudience checks the proof's audience against the session
// key's DID when both are present. Separate from Validate because the
// audience is only knowable once session material exists.
func (p *RootProof) ValidateAudience(sessionDID string) error {
	if p == nil {
		return ErrRootMissing
	}
	if p.Audience != "" && sessionDID != "" && p.Audience != sessionDID {
		return ErrAudienceMismatch
	}
	return nil
}
