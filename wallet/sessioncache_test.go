package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yeying-community/ucansync/ucan"
)

func TestSessionCacheCoalescesConcurrentDerivations(t *testing.T) {
	gate := make(chan struct{})
	p := &fakeProvider{
		sessionKey:  &ucan.SessionKey{DID: "did:key:z6MkTest"},
		sessionGate: gate,
	}
	c := NewSessionCache(DefaultSessionID)

	const n = 16
	results := make([]*ucan.SessionKey, n)
	var started, done sync.WaitGroup
	for i := 0; i < n; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i] = c.Get(context.Background(), p, GetOptions{})
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(gate)
	done.Wait()

	p.mu.Lock()
	calls := p.sessionCalls
	p.mu.Unlock()
	if calls != 1 {
		t.Fatalf("provider called %d times for one burst, want 1", calls)
	}
	for i, r := range results {
		if r == nil || r.DID != "did:key:z6MkTest" {
			t.Fatalf("caller %d got %v", i, r)
		}
	}
}

func TestSessionCacheReturnsCachedWithinWindow(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	p := &fakeProvider{sessionKey: &ucan.SessionKey{DID: "did:key:z6MkTest"}}
	c := NewSessionCache(DefaultSessionID, WithSessionCacheClock(func() time.Time { return now }))

	if got := c.Get(context.Background(), p, GetOptions{}); got == nil {
		t.Fatalf("first get returned nil")
	}
	now = now.Add(DefaultSessionWindow - time.Second)
	if got := c.Get(context.Background(), p, GetOptions{}); got == nil {
		t.Fatalf("cached get returned nil")
	}
	if p.sessionCalls != 1 {
		t.Fatalf("provider called %d times inside the window, want 1", p.sessionCalls)
	}

	now = now.Add(2 * time.Second)
	if got := c.Get(context.Background(), p, GetOptions{}); got == nil {
		t.Fatalf("post-window get returned nil")
	}
	if p.sessionCalls != 2 {
		t.Fatalf("stale cache did not re-derive (calls=%d)", p.sessionCalls)
	}
}

func TestSessionCacheHonorsOwnExpiryWithSkew(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	exp := now.Add(time.Minute)
	p := &fakeProvider{sessionKey: &ucan.SessionKey{DID: "did:key:z6MkTest", ExpiresAt: exp.UnixMilli()}}
	c := NewSessionCache(DefaultSessionID, WithSessionCacheClock(func() time.Time { return now }))

	c.Get(context.Background(), p, GetOptions{})
	now = exp.Add(-DefaultSessionRenewSkew - time.Second)
	c.Get(context.Background(), p, GetOptions{})
	if p.sessionCalls != 1 {
		t.Fatalf("re-derived before the skew boundary (calls=%d)", p.sessionCalls)
	}

	// Inside the renewal skew the key counts as stale.
	now = exp.Add(-DefaultSessionRenewSkew + time.Second)
	c.Get(context.Background(), p, GetOptions{})
	if p.sessionCalls != 2 {
		t.Fatalf("did not renew inside the skew window (calls=%d)", p.sessionCalls)
	}
}

func TestSessionCacheFailureRateLimitsRetries(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	p := &fakeProvider{sessionErr: errors.New("Session expired. Please unlock your wallet")}
	c := NewSessionCache(DefaultSessionID, WithSessionCacheClock(func() time.Time { return now }))

	if got := c.Get(context.Background(), p, GetOptions{}); got != nil {
		t.Fatalf("failed derivation returned %v, want nil", got)
	}
	now = now.Add(DefaultSessionMinRetry - time.Second)
	if got := c.Get(context.Background(), p, GetOptions{}); got != nil {
		t.Fatalf("rate-limited get returned %v, want nil", got)
	}
	if p.sessionCalls != 1 {
		t.Fatalf("retried inside the min-retry interval (calls=%d)", p.sessionCalls)
	}

	now = now.Add(2 * time.Second)
	c.Get(context.Background(), p, GetOptions{})
	if p.sessionCalls != 2 {
		t.Fatalf("never retried after the interval (calls=%d)", p.sessionCalls)
	}
}

func TestSessionCacheInvalidateForcesRederivation(t *testing.T) {
	p := &fakeProvider{sessionKey: &ucan.SessionKey{DID: "did:key:z6MkTest"}}
	c := NewSessionCache(DefaultSessionID)

	c.Get(context.Background(), p, GetOptions{})
	c.Invalidate()
	c.Get(context.Background(), p, GetOptions{})
	if p.sessionCalls != 2 {
		t.Fatalf("invalidate did not force a re-derivation (calls=%d)", p.sessionCalls)
	}
}

func TestSessionCacheNilProviderReturnsNil(t *testing.T) {
	c := NewSessionCache(DefaultSessionID)
	if got := c.Get(context.Background(), nil, GetOptions{}); got != nil {
		t.Fatalf("nil provider returned %v", got)
	}
}
