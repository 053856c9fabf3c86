package wallet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yeying-community/ucansync/notify"
	"github.com/yeying-community/ucansync/ucan"
)

// State of the wallet session lifecycle.
type State int

const (
	// StateDisconnected: no provider account is known.
	StateDisconnected State = iota
	// StateConnecting: an account request is in flight.
	StateConnecting
	// StateUnauthorized: an account is connected but no valid root
	// proof exists.
	StateUnauthorized
	// StateAuthorized: a valid root proof is held.
	StateAuthorized
	// StateExpired: the root proof's expiry elapsed and has not been
	// replaced.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateUnauthorized:
		return "connected-unauthorized"
	case StateAuthorized:
		return "connected-authorized"
	case StateExpired:
		return "expired"
	default:
		return "disconnected"
	}
}

// logoutGrace is how long after an explicit logout a provider-reported
// empty account list is attributed to the logout itself instead of a
// wallet lock.
const logoutGrace = 2 * time.Second

// SessionManager owns the connected-account lifecycle: connect, root
// authorization issuance, account/chain change handling, invalidation
// and logout. Every provider rejection is caught, classified and
// converted into a notification; public operations never propagate
// provider errors to their callers.
type SessionManager struct {
	provider  Provider
	records   *Records
	registry  ucan.Registry
	sessions  *SessionCache
	lock      *SignLock
	events    *AuthEvents
	notifier  notify.Notifier
	log       *slog.Logger
	now       func() time.Time
	sessionID string

	mu            sync.Mutex
	state         State
	loginInFlight bool
	logoutAt      time.Time
	expiryTimer   *time.Timer
}

// ManagerOption configures a SessionManager.
type ManagerOption func(*SessionManager)

// WithNotifier sets the user-facing notification channel.
func WithNotifier(n notify.Notifier) ManagerOption {
	return func(m *SessionManager) { m.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *SessionManager) { m.log = log }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *SessionManager) { m.now = now }
}

// WithSignLock shares an externally constructed sign lock.
func WithSignLock(l *SignLock) ManagerOption {
	return func(m *SessionManager) { m.lock = l }
}

// WithSessionCache shares an externally constructed session cache.
func WithSessionCache(c *SessionCache) ManagerOption {
	return func(m *SessionManager) { m.sessions = c }
}

// WithSessionID overrides DefaultSessionID.
func WithSessionID(id string) ManagerOption {
	return func(m *SessionManager) { m.sessionID = id }
}

// NewSessionManager wires a manager over a provider, persisted records
// and the deployment's capability registry.
func NewSessionManager(provider Provider, records *Records, registry ucan.Registry, opts ...ManagerOption) *SessionManager {
	m := &SessionManager{
		provider:  provider,
		records:   records,
		registry:  registry,
		events:    NewAuthEvents(),
		now:       time.Now,
		sessionID: DefaultSessionID,
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.notifier == nil {
		m.notifier = notify.NewDeduper(notify.Log{Logger: m.log})
	}
	if m.lock == nil {
		m.lock = NewSignLock()
	}
	if m.sessions == nil {
		m.sessions = NewSessionCache(m.sessionID)
	}
	return m
}

// Events returns the authorization event bus.
func (m *SessionManager) Events() *AuthEvents { return m.events }

// Provider returns the wallet provider the manager drives.
func (m *SessionManager) Provider() Provider { return m.provider }

// SignLock returns the shared sign lock.
func (m *SessionManager) SignLock() *SignLock { return m.lock }

// Sessions returns the shared session key cache.
func (m *SessionManager) Sessions() *SessionCache { return m.sessions }

// Records returns the persisted record layer.
func (m *SessionManager) Records() *Records { return m.records }

// Registry returns the capability registry the manager validates
// proofs against.
func (m *SessionManager) Registry() ucan.Registry { return m.registry }

// SessionID returns the provider session this manager drives.
func (m *SessionManager) SessionID() string { return m.sessionID }

// State returns the current lifecycle state.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *SessionManager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Connect requests provider accounts, persists the selected account and
// attempts authorization. Rejections are classified and reported; the
// method itself never returns an error to the caller.
func (m *SessionManager) Connect(ctx context.Context) {
	if m.provider == nil || !m.records.WalletDetected(ctx) {
		m.notifier.Error("no wallet detected; install and connect a wallet first")
		return
	}
	m.setState(StateConnecting)
	accounts, err := m.provider.RequestAccounts(ctx)
	if err != nil {
		m.setState(StateDisconnected)
		m.reportConnectError(Classify(err))
		return
	}
	if len(accounts) == 0 {
		m.setState(StateDisconnected)
		m.notifier.Error("wallet returned no accounts")
		return
	}
	account := accounts[0]
	if err := m.records.SetAccount(ctx, account); err != nil {
		m.log.Warn("persist account failed", slog.String("err", err.Error()))
	}
	m.setState(StateUnauthorized)
	m.Login(ctx, LoginOptions{Address: account})
}

func (m *SessionManager) reportConnectError(cerr *Error) {
	switch cerr.Kind {
	case KindSessionExpired:
		m.notifier.Error("wallet session expired; unlock the wallet and try again")
	case KindUserRejected:
		m.notifier.Error("wallet connection request was rejected")
	case KindProviderUnavailable:
		m.notifier.Error("no wallet detected; install and connect a wallet first")
	default:
		m.log.Error("wallet connect failed", slog.String("kind", cerr.Kind.String()), slog.String("err", cerr.Error()))
		m.notifier.Error("wallet connection failed; check the wallet state")
	}
}

// LoginOptions controls a Login attempt.
type LoginOptions struct {
	// Silent suppresses user notifications; used for background
	// re-authorization after an account switch.
	Silent bool
	// Address overrides the persisted account.
	Address string
}

// Login ensures a valid root authorization for the target account.
// Idempotent: a stored proof that already matches the account and the
// required capabilities short-circuits to success without prompting the
// wallet. When another signing flow holds the lock the attempt is
// reported softly and abandoned; the next trigger re-invokes it.
func (m *SessionManager) Login(ctx context.Context, opts LoginOptions) {
	m.mu.Lock()
	if m.loginInFlight {
		m.mu.Unlock()
		return
	}
	m.loginInFlight = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.loginInFlight = false
		m.mu.Unlock()
	}()

	if m.provider == nil || !m.records.WalletDetected(ctx) {
		if !opts.Silent {
			m.notifier.Error("no wallet detected; install and connect a wallet first")
		}
		return
	}
	account := opts.Address
	if account == "" {
		account = m.records.Account(ctx)
	}
	if account == "" {
		if !opts.Silent {
			m.notifier.Error("connect a wallet first")
		}
		return
	}

	requiredKey := m.registry.RootCapsKey()
	existing, err := m.provider.StoredRoot(ctx, m.sessionID)
	if err != nil {
		m.log.Warn("stored root lookup failed", slog.String("err", err.Error()))
		existing = nil
	}
	if verr := existing.Validate(account, requiredKey, m.now()); verr == nil {
		if err := m.records.SetRootMeta(ctx, existing); err != nil {
			m.log.Warn("persist root meta failed", slog.String("err", err.Error()))
		}
		m.becomeAuthorized(existing)
		return
	} else if existing != nil {
		// Stale proof for this account: clear before re-issuing.
		m.clearProof(ctx)
	}

	if !m.lock.Acquire() {
		if !opts.Silent {
			m.notifier.Info("wallet signature in progress; confirm it in the wallet")
		}
		return
	}

	root, err := m.provider.CreateRootUCAN(ctx, CreateRootParams{
		Address:      account,
		SessionID:    m.sessionID,
		Capabilities: m.registry.RootCapabilities(),
	})
	if err != nil {
		cerr := Classify(err)
		if cerr.Kind == KindSignPending {
			// The prompt is still open in the wallet UI. Keep the lock
			// held (refreshed) so other callers do not stack prompts.
			m.lock.Refresh()
			if !opts.Silent {
				m.notifier.Info("wallet signature in progress; confirm it in the wallet")
			}
			return
		}
		m.lock.Release()
		if cerr.Kind == KindRequestTimeout {
			m.events.EmitError("request timeout")
		}
		m.log.Error("root authorization failed", slog.String("kind", cerr.Kind.String()), slog.String("err", cerr.Error()))
		if !opts.Silent {
			m.notifier.Error("authorization failed: " + cerr.Kind.String())
		}
		return
	}

	if err := m.records.SetRootMeta(ctx, root); err != nil {
		m.log.Warn("persist root meta failed", slog.String("err", err.Error()))
	}
	m.lock.Release()
	if !opts.Silent {
		m.notifier.Success("authorization granted")
	}
	m.becomeAuthorized(root)
}

// becomeAuthorized flips state, schedules expiry and emits the
// auth-change event exactly once.
func (m *SessionManager) becomeAuthorized(root *ucan.RootProof) {
	m.mu.Lock()
	m.state = StateAuthorized
	m.scheduleExpiryLocked(root)
	m.mu.Unlock()
	m.events.EmitError("")
	m.events.EmitChange()
}

// scheduleExpiryLocked arms a timer that transitions to expired when
// the proof's expiry elapses. Callers hold m.mu.
func (m *SessionManager) scheduleExpiryLocked(root *ucan.RootProof) {
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
	expMs := ucan.NormalizeExpiryMillis(root.ExpiresAt)
	if expMs <= 0 {
		return
	}
	delay := time.UnixMilli(expMs).Sub(m.now())
	if delay <= 0 {
		m.state = StateExpired
		return
	}
	m.expiryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		changed := m.state == StateAuthorized
		if changed {
			m.state = StateExpired
		}
		m.mu.Unlock()
		if changed {
			m.events.EmitChange()
		}
	})
}

func (m *SessionManager) clearProof(ctx context.Context) {
	if m.provider != nil {
		if err := m.provider.ClearSession(ctx, m.sessionID); err != nil {
			m.log.Warn("clear provider session failed", slog.String("err", err.Error()))
		}
	}
	if err := m.records.ClearRootMeta(ctx); err != nil {
		m.log.Warn("clear root meta failed", slog.String("err", err.Error()))
	}
	m.sessions.Invalidate()
}

// Logout clears the persisted account and every proof/session cache,
// then emits the auth-change event. Reentrant: a second logout is a
// no-op beyond the redundant event.
func (m *SessionManager) Logout(ctx context.Context) {
	m.mu.Lock()
	m.logoutAt = m.now()
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
	m.state = StateUnauthorized
	m.mu.Unlock()

	if err := m.records.ClearAccount(ctx); err != nil {
		m.log.Warn("clear account failed", slog.String("err", err.Error()))
	}
	m.clearProof(ctx)
	m.events.EmitChange()
	m.notifier.Success("signed out")
}

// InvalidateAuthorization drops the stored proof after a consumer
// (typically the remote storage client) detected a backend rejection,
// forcing re-authorization on the next attempt instead of looping with
// a stale proof.
func (m *SessionManager) InvalidateAuthorization(ctx context.Context, detail string) {
	m.mu.Lock()
	if m.expiryTimer != nil {
		m.expiryTimer.Stop()
		m.expiryTimer = nil
	}
	if m.state == StateAuthorized {
		m.state = StateUnauthorized
	}
	m.mu.Unlock()

	m.clearProof(ctx)
	m.events.EmitChange()
	if detail != "" {
		m.events.EmitError(detail)
	}
}

// Authorized is the fast-path guard check: consistent persisted root
// metadata for the current account and required capabilities, evaluated
// without any provider or network I/O.
func (m *SessionManager) Authorized(ctx context.Context) bool {
	account := m.records.Account(ctx)
	return m.records.RootMeta(ctx).ValidFor(account, m.registry.RootCapsKey(), m.now())
}

// ValidAuthorization checks the full stored proof object against the
// current account and required capability key.
func (m *SessionManager) ValidAuthorization(ctx context.Context) bool {
	if m.provider == nil {
		return false
	}
	account := m.records.Account(ctx)
	if account == "" {
		return false
	}
	root, err := m.provider.StoredRoot(ctx, m.sessionID)
	if err != nil {
		return false
	}
	return root.Validate(account, m.registry.RootCapsKey(), m.now()) == nil
}

// StoredProof returns the provider's stored root proof, or nil.
func (m *SessionManager) StoredProof(ctx context.Context) *ucan.RootProof {
	if m.provider == nil {
		return nil
	}
	root, err := m.provider.StoredRoot(ctx, m.sessionID)
	if err != nil {
		return nil
	}
	return root
}

// StartListeners subscribes to provider account/chain change events.
// The returned cancel detaches both subscriptions.
func (m *SessionManager) StartListeners(ctx context.Context) (cancel func()) {
	if m.provider == nil {
		return func() {}
	}
	offAccounts := m.provider.OnAccountsChanged(func(accounts []string) {
		m.handleAccountsChanged(ctx, accounts)
	})
	offChain := m.provider.OnChainChanged(func(chainID string) {
		// Informational only; chain switches do not affect authorization.
		m.log.Info("wallet chain changed", slog.String("chain_id", chainID))
	})
	return func() {
		if offAccounts != nil {
			offAccounts()
		}
		if offChain != nil {
			offChain()
		}
	}
}

func (m *SessionManager) handleAccountsChanged(ctx context.Context, accounts []string) {
	if len(accounts) == 0 {
		m.mu.Lock()
		recentLogout := !m.logoutAt.IsZero() && m.now().Sub(m.logoutAt) < logoutGrace
		if recentLogout {
			m.logoutAt = time.Time{}
		}
		m.mu.Unlock()
		if recentLogout {
			return
		}

		root := m.StoredProof(ctx)
		account := m.records.Account(ctx)
		if root != nil && root.Validate(account, m.registry.RootCapsKey(), m.now()) == nil {
			// The wallet is likely just locked; keep the authorization
			// instead of forcing a fresh prompt on unlock.
			return
		}

		if err := m.records.ClearAccount(ctx); err != nil {
			m.log.Warn("clear account failed", slog.String("err", err.Error()))
		}
		m.clearProof(ctx)
		m.setState(StateDisconnected)
		m.events.EmitChange()
		return
	}

	next := accounts[0]
	prev := m.records.Account(ctx)
	if next == prev {
		return
	}
	if err := m.records.SetAccount(ctx, next); err != nil {
		m.log.Warn("persist account failed", slog.String("err", err.Error()))
	}
	m.clearProof(ctx)
	m.setState(StateUnauthorized)
	m.events.EmitChange()
	m.Login(ctx, LoginOptions{Silent: true, Address: next})
}

// ChainID fetches the connected chain id, reporting failures through
// the notifier.
func (m *SessionManager) ChainID(ctx context.Context) (string, bool) {
	if m.provider == nil {
		m.notifier.Error("no wallet detected; install and connect a wallet first")
		return "", false
	}
	id, err := m.provider.ChainID(ctx)
	if err != nil || id == "" {
		m.log.Warn("chain id lookup failed", slog.Any("err", err))
		m.notifier.Error("failed to read chain id")
		return "", false
	}
	return id, true
}

// Balance fetches the connected account's balance (hex wei), reporting
// failures through the notifier.
func (m *SessionManager) Balance(ctx context.Context) (string, bool) {
	if m.provider == nil {
		m.notifier.Error("no wallet detected; install and connect a wallet first")
		return "", false
	}
	account := m.records.Account(ctx)
	if account == "" {
		m.notifier.Error("connect a wallet first")
		return "", false
	}
	balance, err := m.provider.Balance(ctx, account)
	if err != nil {
		m.log.Warn("balance lookup failed", slog.String("err", err.Error()))
		m.notifier.Error("failed to read balance")
		return "", false
	}
	return balance, true
}
