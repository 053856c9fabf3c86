package wallet

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/yeying-community/ucansync/kv/memory"
	"github.com/yeying-community/ucansync/ucan"
)

func newTestRecords(t *testing.T) *Records {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	return NewRecords(store, nil)
}

func TestRecordsAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	if got := r.Account(ctx); got != "" {
		t.Fatalf("fresh store account = %q", got)
	}
	if err := r.SetAccount(ctx, testAccount); err != nil {
		t.Fatalf("set account: %v", err)
	}
	if got := r.Account(ctx); got != testAccount {
		t.Fatalf("account = %q, want %q", got, testAccount)
	}
	if err := r.ClearAccount(ctx); err != nil {
		t.Fatalf("clear account: %v", err)
	}
	if got := r.Account(ctx); got != "" {
		t.Fatalf("account after clear = %q", got)
	}
}

func TestRecordsRecentAccountsDedupAndCap(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	for i := 0; i < MaxRecentAccounts+5; i++ {
		addr := fmt.Sprintf("0x%040d", i)
		if err := r.PushRecentAccount(ctx, addr); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	recent := r.RecentAccounts(ctx)
	if len(recent) != MaxRecentAccounts {
		t.Fatalf("history length = %d, want %d", len(recent), MaxRecentAccounts)
	}
	newest := fmt.Sprintf("0x%040d", MaxRecentAccounts+4)
	if recent[0] != newest {
		t.Fatalf("recent[0] = %q, want %q", recent[0], newest)
	}

	// Re-pushing an existing entry moves it to the front, even when the
	// case differs.
	reused := recent[3]
	if err := r.PushRecentAccount(ctx, "0X"+reused[2:]); err != nil {
		t.Fatalf("re-push: %v", err)
	}
	recent = r.RecentAccounts(ctx)
	if len(recent) != MaxRecentAccounts {
		t.Fatalf("re-push changed length to %d", len(recent))
	}
	if recent[0] != "0X"+reused[2:] {
		t.Fatalf("re-pushed entry not at front: %q", recent[0])
	}
	for _, a := range recent[1:] {
		if a == reused {
			t.Fatalf("duplicate entry survived: %q", a)
		}
	}
}

func TestRecordsRootMetaRoundTripAndValidity(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)
	reg := ucan.Registry{AppID: "chat.example.com"}
	now := time.Now()

	proof := &ucan.RootProof{
		Issuer:       ucan.IssuerDID(testAccount),
		ExpiresAt:    now.Add(time.Hour).UnixMilli(),
		Capabilities: reg.RootCapabilities(),
	}
	if err := r.SetRootMeta(ctx, proof); err != nil {
		t.Fatalf("set root meta: %v", err)
	}

	m := r.RootMeta(ctx)
	if m == nil {
		t.Fatalf("root meta missing after set")
	}
	if !m.ValidFor(testAccount, reg.RootCapsKey(), now) {
		t.Fatalf("persisted meta not valid for its own account")
	}
	if m.ValidFor("0x000000000000000000000000000000000000dead", reg.RootCapsKey(), now) {
		t.Fatalf("meta valid for foreign account")
	}
	if m.ValidFor(testAccount, "other:caps", now) {
		t.Fatalf("meta valid for mismatched capability key")
	}
	if m.ValidFor(testAccount, reg.RootCapsKey(), now.Add(2*time.Hour)) {
		t.Fatalf("meta valid past expiry")
	}
	if m.ValidFor("", reg.RootCapsKey(), now) {
		t.Fatalf("meta valid with no connected account")
	}

	if err := r.ClearRootMeta(ctx); err != nil {
		t.Fatalf("clear root meta: %v", err)
	}
	if r.RootMeta(ctx) != nil {
		t.Fatalf("root meta survived clear")
	}
}

func TestRecordsCorruptValuesFallBack(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	r := NewRecords(store, nil)

	if err := store.Set(ctx, "ucanRootMeta", []byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Set(ctx, "recentAccounts", []byte(`["legacy","layout"]`)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if got := r.RootMeta(ctx); got != nil {
		t.Fatalf("corrupt root meta decoded to %+v", got)
	}
	if got := r.RecentAccounts(ctx); got != nil {
		t.Fatalf("legacy recent accounts decoded to %v", got)
	}

	// An unknown version is treated the same as corruption.
	if err := store.Set(ctx, "ucanRootMeta", []byte(`{"v":99,"iss":"x","exp":1,"caps":"y"}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if got := r.RootMeta(ctx); got != nil {
		t.Fatalf("future-versioned root meta decoded to %+v", got)
	}
}

func TestRecordsWalletDetectedDefaultsTrue(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	if !r.WalletDetected(ctx) {
		t.Fatalf("fresh store reports no wallet")
	}
	if err := r.SetWalletDetected(ctx, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	if r.WalletDetected(ctx) {
		t.Fatalf("detected after explicit false")
	}
	if err := r.SetWalletDetected(ctx, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !r.WalletDetected(ctx) {
		t.Fatalf("not detected after explicit true")
	}
}

func TestRecordsBannerDismissed(t *testing.T) {
	ctx := context.Background()
	r := newTestRecords(t)

	if r.BannerDismissed(ctx) {
		t.Fatalf("fresh store reports dismissed")
	}
	if err := r.SetBannerDismissed(ctx, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !r.BannerDismissed(ctx) {
		t.Fatalf("not dismissed after set")
	}
}
