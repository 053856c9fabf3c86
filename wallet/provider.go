// Package wallet owns the connected-account lifecycle: resolving a
// browser- or daemon-injected wallet provider, issuing and validating
// the root UCAN authorization, caching the derived session key, and
// coordinating wallet-signature prompts through a process-wide sign
// lock. It consumes only the narrow request/response contract of the
// provider; the provider's signing internals are out of scope.
package wallet

import (
	"context"

	"github.com/yeying-community/ucansync/ucan"
)

// DefaultSessionID names the single UCAN session this application
// maintains with the provider.
const DefaultSessionID = "default"

// CreateRootParams asks the provider to issue a fresh root proof for an
// account. Issuing requires a wallet signature and therefore a user
// prompt; callers must hold the sign lock.
type CreateRootParams struct {
	Address      string
	SessionID    string
	Capabilities []ucan.Capability
}

// Provider is the narrow surface consumed from the wallet extension or
// embedded signer. Every method may fail for provider-specific reasons;
// callers classify errors once via Classify and never branch on raw
// provider error shapes.
type Provider interface {
	// RequestAccounts prompts for (or silently returns) the connected
	// accounts, selected account first.
	RequestAccounts(ctx context.Context) ([]string, error)

	// ChainID returns the connected chain id in hex form ("0x1").
	ChainID(ctx context.Context) (string, error)

	// Balance returns the account balance in hex wei at the latest block.
	Balance(ctx context.Context, account string) (string, error)

	// CreateRootUCAN issues a new root proof via a wallet signature.
	CreateRootUCAN(ctx context.Context, params CreateRootParams) (*ucan.RootProof, error)

	// StoredRoot returns the provider-persisted root proof for the
	// session, or nil when none exists.
	StoredRoot(ctx context.Context, sessionID string) (*ucan.RootProof, error)

	// ClearSession forgets the stored root proof and any derived
	// material for the session.
	ClearSession(ctx context.Context, sessionID string) error

	// SessionKey derives (or returns) the session key material for the
	// stored root, performing a liveness check against the wallet. May
	// require a signature on first derivation.
	SessionKey(ctx context.Context, sessionID string) (*ucan.SessionKey, error)

	// OnAccountsChanged subscribes to account list changes. The
	// returned cancel detaches the subscription.
	OnAccountsChanged(fn func(accounts []string)) (cancel func())

	// OnChainChanged subscribes to chain switches.
	OnChainChanged(fn func(chainID string)) (cancel func())
}
