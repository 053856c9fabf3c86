package wallet

import (
	"sync"
	"testing"
	"time"
)

func TestSignLockMutualExclusion(t *testing.T) {
	l := NewSignLock()
	if !l.Acquire() {
		t.Fatalf("first acquire failed")
	}
	if l.Acquire() {
		t.Fatalf("second acquire succeeded while held")
	}
	if !l.Pending() {
		t.Fatalf("held lock not pending")
	}
	l.Release()
	if l.Pending() {
		t.Fatalf("released lock still pending")
	}
	if !l.Acquire() {
		t.Fatalf("acquire after release failed")
	}
}

func TestSignLockConcurrentAcquire(t *testing.T) {
	l := NewSignLock()
	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d concurrent acquires succeeded, want 1", wins)
	}
}

func TestSignLockStaleForceAcquire(t *testing.T) {
	now := time.UnixMilli(0)
	l := NewSignLock(WithSignLockClock(func() time.Time { return now }))

	if !l.Acquire() {
		t.Fatalf("acquire failed")
	}
	now = now.Add(DefaultSignLockTTL - time.Second)
	if l.Acquire() {
		t.Fatalf("acquired before TTL elapsed")
	}
	now = now.Add(2 * time.Second)
	if l.Pending() {
		t.Fatalf("stale lock reported pending")
	}
	if !l.Acquire() {
		t.Fatalf("stale lock not force-acquirable")
	}
}

func TestSignLockRefreshExtendsHold(t *testing.T) {
	now := time.UnixMilli(0)
	l := NewSignLock(WithSignLockClock(func() time.Time { return now }))

	if !l.Acquire() {
		t.Fatalf("acquire failed")
	}
	now = now.Add(DefaultSignLockTTL - time.Second)
	l.Refresh()
	now = now.Add(2 * time.Second)
	// Without the refresh this would be stale by now.
	if l.Acquire() {
		t.Fatalf("refreshed lock was force-acquired")
	}
	if !l.Pending() {
		t.Fatalf("refreshed lock not pending")
	}
}

func TestSignLockRefreshIgnoredWhenUnheld(t *testing.T) {
	l := NewSignLock()
	l.Refresh()
	if l.Pending() {
		t.Fatalf("refresh created a hold")
	}
}
