package wallet

import (
	"sync"
	"time"
)

// DefaultSignLockTTL bounds how long a signature prompt may hold the
// lock. A caller that never reaches its release path (page navigation
// mid-prompt, crashed goroutine) stops blocking others once the TTL
// elapses and the lock becomes force-acquirable.
const DefaultSignLockTTL = 2 * time.Minute

// SignLock is the process-wide mutual exclusion flag for wallet
// signature prompts. At most one in-flight signature request holds it;
// a second Acquire before Release (or TTL staleness) fails, so
// independent callers never stack redundant wallet prompts.
//
// Construct instances explicitly and share one per process; tests make
// their own.
type SignLock struct {
	mu     sync.Mutex
	held   bool
	heldAt time.Time
	ttl    time.Duration
	now    func() time.Time
}

// SignLockOption configures a SignLock.
type SignLockOption func(*SignLock)

// WithSignLockTTL overrides DefaultSignLockTTL.
func WithSignLockTTL(ttl time.Duration) SignLockOption {
	return func(l *SignLock) { l.ttl = ttl }
}

// WithSignLockClock injects a clock for tests.
func WithSignLockClock(now func() time.Time) SignLockOption {
	return func(l *SignLock) { l.now = now }
}

// NewSignLock creates an unheld lock.
func NewSignLock(opts ...SignLockOption) *SignLock {
	l := &SignLock{ttl: DefaultSignLockTTL, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *SignLock) stale(now time.Time) bool {
	return l.held && now.Sub(l.heldAt) >= l.ttl
}

// Acquire takes the lock. Returns false when it is already held and not
// yet stale; a stale hold is forcibly taken over.
func (l *SignLock) Acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.held && !l.stale(now) {
		return false
	}
	l.held = true
	l.heldAt = now
	return true
}

// Release frees the lock. Releasing an unheld lock is a no-op.
func (l *SignLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
}

// Refresh extends the hold without releasing. Used when a signature
// request is known to still be pending in the wallet UI, so other
// callers keep seeing the lock as held instead of piling on prompts.
func (l *SignLock) Refresh() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		l.heldAt = l.now()
	}
}

// Pending reports whether the lock is currently held and not stale.
func (l *SignLock) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held && !l.stale(l.now())
}
