package wallet

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yeying-community/ucansync/ucan"
)

// Freshness policy for cached session key material.
const (
	// DefaultSessionWindow is the freshness window applied when the
	// session key carries no expiry of its own.
	DefaultSessionWindow = 5 * time.Minute
	// DefaultSessionRenewSkew renews a session this far before its own
	// expiry so a token is never presented right at the boundary.
	DefaultSessionRenewSkew = 30 * time.Second
	// DefaultSessionMinRetry rate-limits derivation attempts after a
	// failure.
	DefaultSessionMinRetry = 10 * time.Second
)

type sessionCall struct {
	done   chan struct{}
	result *ucan.SessionKey
}

// SessionCache caches derived session key material in memory. The
// material is never persisted. Concurrent callers awaiting a derivation
// share one in-flight provider round-trip; provider failures are
// logged and surfaced as nil, never thrown.
type SessionCache struct {
	sessionID string
	log       *slog.Logger
	now       func() time.Time

	window, renewSkew, minRetry time.Duration

	mu          sync.Mutex
	cached      *ucan.SessionKey
	cachedAt    time.Time
	lastAttempt time.Time
	inflight    *sessionCall
}

// SessionCacheOption configures a SessionCache.
type SessionCacheOption func(*SessionCache)

// WithSessionCacheClock injects a clock for tests.
func WithSessionCacheClock(now func() time.Time) SessionCacheOption {
	return func(c *SessionCache) { c.now = now }
}

// WithSessionCacheLogger sets the logger.
func WithSessionCacheLogger(log *slog.Logger) SessionCacheOption {
	return func(c *SessionCache) { c.log = log }
}

// WithSessionMinRetry overrides DefaultSessionMinRetry.
func WithSessionMinRetry(d time.Duration) SessionCacheOption {
	return func(c *SessionCache) { c.minRetry = d }
}

// WithSessionWindow overrides DefaultSessionWindow.
func WithSessionWindow(d time.Duration) SessionCacheOption {
	return func(c *SessionCache) { c.window = d }
}

// NewSessionCache creates a cache for one provider session.
func NewSessionCache(sessionID string, opts ...SessionCacheOption) *SessionCache {
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	c := &SessionCache{
		sessionID: sessionID,
		now:       time.Now,
		window:    DefaultSessionWindow,
		renewSkew: DefaultSessionRenewSkew,
		minRetry:  DefaultSessionMinRetry,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// GetOptions controls a Get call.
type GetOptions struct {
	// Refresh forces a derivation attempt even without a provider
	// being treated as an implicit refresh request.
	Refresh bool
}

func (c *SessionCache) freshLocked(now time.Time) bool {
	if c.cached == nil {
		return false
	}
	if c.cached.ExpiresAt > 0 {
		return c.cached.FreshAt(now, c.renewSkew)
	}
	return now.Sub(c.cachedAt) < c.window
}

// Get returns the cached session key if fresh. When stale it attempts a
// refresh only if asked to (opts.Refresh, or a provider is supplied),
// no derivation is already in flight, and the minimum retry interval
// since the last attempt has elapsed; otherwise it returns the
// last-known value, which may be nil. A nil result means "try again
// later", not a fatal condition.
func (c *SessionCache) Get(ctx context.Context, provider Provider, opts GetOptions) *ucan.SessionKey {
	c.mu.Lock()
	now := c.now()
	if c.freshLocked(now) {
		cached := c.cached
		c.mu.Unlock()
		return cached
	}
	shouldRefresh := opts.Refresh || provider != nil
	if !shouldRefresh || provider == nil {
		c.mu.Unlock()
		return nil
	}
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.result
		case <-ctx.Done():
			return nil
		}
	}
	if now.Sub(c.lastAttempt) < c.minRetry {
		cached := c.cached
		c.mu.Unlock()
		return cached
	}

	call := &sessionCall{done: make(chan struct{})}
	c.lastAttempt = now
	c.inflight = call
	c.mu.Unlock()

	session, err := provider.SessionKey(ctx, c.sessionID)

	c.mu.Lock()
	finishedAt := c.now()
	if err != nil {
		c.log.Warn("ucan session derivation failed",
			slog.String("session_id", c.sessionID),
			slog.String("err", err.Error()))
		c.cached = nil
	} else {
		c.cached = session
		c.lastAttempt = finishedAt
	}
	c.cachedAt = finishedAt
	call.result = c.cached
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)

	return call.result
}

// Invalidate clears the cached value and in-flight bookkeeping. Used
// after a detected authorization failure so the next Get re-derives.
func (c *SessionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
	c.cachedAt = time.Time{}
	c.lastAttempt = time.Time{}
	c.inflight = nil
}

// Refresh invalidates and immediately forces a derivation.
func (c *SessionCache) Refresh(ctx context.Context, provider Provider) *ucan.SessionKey {
	c.Invalidate()
	return c.Get(ctx, provider, GetOptions{Refresh: true})
}
