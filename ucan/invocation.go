package ucan

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultInvocationTTL bounds how long a derived invocation token stays
// usable. Kept short: tokens are minted per derived client, not per
// request, and the derived-client cache already applies an expiry skew.
const DefaultInvocationTTL = 15 * time.Minute

// InvocationParams binds a derived token to one backend call surface.
type InvocationParams struct {
	// Audience is the did:web identity of the backend the token is for.
	Audience string
	// AppID and AppAction identify the application directory scope.
	AppID     string
	AppAction string
	// Capabilities is the attenuated subset being invoked. Must not
	// exceed the root proof's set; the backend enforces that, the
	// client just declares it.
	Capabilities []Capability
	// TTL overrides DefaultInvocationTTL when positive.
	TTL time.Duration
}

// InvocationClaims is the JWT claim set of a derived invocation token.
type InvocationClaims struct {
	jwt.RegisteredClaims
	Capabilities []Capability `json:"att"`
	Proof        string       `json:"prf,omitempty"`
	AppID        string       `json:"app,omitempty"`
	AppAction    string       `json:"act,omitempty"`
}

// NewInvocationToken mints a short-lived bearer token for one backend,
// signed by the session key and chained to the root proof. The issuer
// is the session DID so the backend can verify the signature against
// the audience named in the root.
func NewInvocationToken(session *SessionKey, root *RootProof, p InvocationParams, now time.Time) (string, error) {
	if session == nil {
		return "", ErrNoSigningKey
	}
	if root == nil {
		return "", ErrRootMissing
	}
	if p.Audience == "" {
		return "", errors.New("ucan: invocation audience is required")
	}
	signer, err := session.Signer()
	if err != nil {
		return "", err
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultInvocationTTL
	}
	claims := InvocationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    session.DID,
			Subject:   root.Issuer,
			Audience:  jwt.ClaimStrings{p.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Capabilities: Dedup(p.Capabilities),
		Proof:        root.Token,
		AppID:        p.AppID,
		AppAction:    p.AppAction,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := tok.SignedString(signer)
	if err != nil {
		return "", fmt.Errorf("ucan: sign invocation token: %w", err)
	}
	return signed, nil
}

// ParseInvocationToken verifies a token against the session public key
// and returns its claims. Used by tests and by tooling that inspects
// outbound tokens; production verification happens server-side.
func ParseInvocationToken(token string, pub ed25519.PublicKey) (*InvocationClaims, error) {
	var claims InvocationClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("ucan: unexpected signing method %q", t.Method.Alg())
		}
		return pub, nil
	})
	if err != nil {
		return nil, err
	}
	return &claims, nil
}
