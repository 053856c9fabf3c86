package wallet

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/yeying-community/ucansync/kv"
	"github.com/yeying-community/ucansync/ucan"
)

// Persisted record keys. These are the durable local footprint of the
// wallet subsystem; everything else lives in memory or with the
// provider.
const (
	keyCurrentAccount  = "currentAccount"
	keyRootMeta        = "ucanRootMeta"
	keyWalletDetected  = "hasConnectedWallet"
	keyBannerDismissed = "bannerDismissed"
	keyRecentAccounts  = "recentAccounts"
)

// MaxRecentAccounts bounds the recent-accounts history.
const MaxRecentAccounts = 10

const (
	rootMetaVersion       = 1
	recentAccountsVersion = 1
)

// RootMeta is the redundantly persisted summary of the root proof:
// enough to answer "could the stored proof possibly be valid?" without
// loading the full proof object from the provider's session store.
type RootMeta struct {
	Version   int    `json:"v"`
	Issuer    string `json:"iss"`
	ExpiresAt int64  `json:"exp"` // epoch ms
	CapsKey   string `json:"caps"`
}

// ValidFor reports whether the persisted metadata is consistent with a
// valid root proof for account and the required capability key. This is
// the fast-path check the sync scheduler uses on every attempt; it must
// not do any network or provider I/O.
func (m *RootMeta) ValidFor(account, requiredCapsKey string, now time.Time) bool {
	if m == nil || account == "" {
		return false
	}
	if m.Issuer == "" || m.CapsKey == "" {
		return false
	}
	if ucan.NormalizeExpiryMillis(m.ExpiresAt) <= now.UnixMilli() {
		return false
	}
	if m.CapsKey != requiredCapsKey {
		return false
	}
	return m.Issuer == ucan.IssuerDID(account)
}

type recentAccountsRecord struct {
	Version  int      `json:"v"`
	Accounts []string `json:"accounts"`
}

// Records is the typed persistence layer over a kv.Store. Reads of
// invalid or missing values fall back to zero-value defaults rather
// than propagating decode errors; writes report storage failures.
type Records struct {
	store kv.Store
	log   *slog.Logger
}

// NewRecords wraps store. log may be nil.
func NewRecords(store kv.Store, log *slog.Logger) *Records {
	if log == nil {
		log = slog.Default()
	}
	return &Records{store: store, log: log}
}

func (r *Records) getString(ctx context.Context, key string) string {
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		r.log.Warn("record read failed", slog.String("key", key), slog.String("err", err.Error()))
		return ""
	}
	return string(raw)
}

// Account returns the persisted connected account, or "".
func (r *Records) Account(ctx context.Context) string {
	return r.getString(ctx, keyCurrentAccount)
}

// SetAccount persists the connected account and pushes it onto the
// recent-accounts history.
func (r *Records) SetAccount(ctx context.Context, account string) error {
	if err := r.store.Set(ctx, keyCurrentAccount, []byte(account)); err != nil {
		return err
	}
	return r.PushRecentAccount(ctx, account)
}

// ClearAccount forgets the connected account.
func (r *Records) ClearAccount(ctx context.Context) error {
	return r.store.Delete(ctx, keyCurrentAccount)
}

// RootMeta returns the persisted root-proof metadata, or nil when
// missing or unreadable.
func (r *Records) RootMeta(ctx context.Context) *RootMeta {
	raw, err := r.store.Get(ctx, keyRootMeta)
	if err != nil || raw == nil {
		return nil
	}
	var m RootMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		r.log.Warn("root meta record corrupt, ignoring", slog.String("err", err.Error()))
		return nil
	}
	if m.Version != rootMetaVersion {
		// Unknown layout; treat as absent so the caller re-authorizes.
		return nil
	}
	return &m
}

// SetRootMeta persists the proof summary.
func (r *Records) SetRootMeta(ctx context.Context, proof *ucan.RootProof) error {
	m := RootMeta{
		Version:   rootMetaVersion,
		Issuer:    proof.Issuer,
		ExpiresAt: proof.ExpiresAt,
		CapsKey:   proof.CapsKey(),
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, keyRootMeta, raw)
}

// ClearRootMeta forgets the proof summary.
func (r *Records) ClearRootMeta(ctx context.Context) error {
	return r.store.Delete(ctx, keyRootMeta)
}

// WalletDetected reports whether a wallet provider has ever been seen.
// Missing or malformed values default to true so a fresh install still
// attempts detection.
func (r *Records) WalletDetected(ctx context.Context) bool {
	return r.getString(ctx, keyWalletDetected) != "false"
}

// SetWalletDetected records provider availability.
func (r *Records) SetWalletDetected(ctx context.Context, detected bool) error {
	v := "true"
	if !detected {
		v = "false"
	}
	return r.store.Set(ctx, keyWalletDetected, []byte(v))
}

// BannerDismissed reports the banner-dismissed flag.
func (r *Records) BannerDismissed(ctx context.Context) bool {
	return r.getString(ctx, keyBannerDismissed) == "true"
}

// SetBannerDismissed records the banner-dismissed flag.
func (r *Records) SetBannerDismissed(ctx context.Context, dismissed bool) error {
	v := "false"
	if dismissed {
		v = "true"
	}
	return r.store.Set(ctx, keyBannerDismissed, []byte(v))
}

// RecentAccounts returns the account history, most recent first.
func (r *Records) RecentAccounts(ctx context.Context) []string {
	raw, err := r.store.Get(ctx, keyRecentAccounts)
	if err != nil || raw == nil {
		return nil
	}
	var rec recentAccountsRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Version != recentAccountsVersion {
		r.log.Warn("recent accounts record corrupt, resetting")
		return nil
	}
	return rec.Accounts
}

// PushRecentAccount inserts account at the front of the history,
// de-duplicating case-insensitively and capping at MaxRecentAccounts.
func (r *Records) PushRecentAccount(ctx context.Context, account string) error {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil
	}
	existing := r.RecentAccounts(ctx)
	next := make([]string, 0, len(existing)+1)
	next = append(next, account)
	for _, a := range existing {
		if strings.EqualFold(a, account) {
			continue
		}
		next = append(next, a)
		if len(next) == MaxRecentAccounts {
			break
		}
	}
	raw, err := json.Marshal(recentAccountsRecord{Version: recentAccountsVersion, Accounts: next})
	if err != nil {
		return err
	}
	return r.store.Set(ctx, keyRecentAccounts, raw)
}
