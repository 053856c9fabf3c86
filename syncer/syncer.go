package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/yeying-community/ucansync/appstate"
	"github.com/yeying-community/ucansync/cloud"
	"github.com/yeying-community/ucansync/kv"
	"github.com/yeying-community/ucansync/notify"
	"github.com/yeying-community/ucansync/wallet"
)

// SnapshotKey names the remote backup blob.
const SnapshotKey = "backup"

const keyLastSyncTime = "lastSyncTime"

// ErrSyncInFlight reports that another sync for this syncer is already
// running; the attempt is skipped, not queued.
var ErrSyncInFlight = errors.New("syncer: sync already in flight")

// ErrNotReady reports that the readiness guard refused the attempt
// (not configured, not hydrated, or not authorized).
var ErrNotReady = errors.New("syncer: cloud sync not ready")

// Syncer reconciles local state against the remote snapshot store.
type Syncer struct {
	cfg      Config
	store    StateStore
	client   cloud.Client
	manager  *wallet.SessionManager
	meta     kv.Store
	notifier notify.Notifier
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	syncing bool
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithManager attaches the wallet session manager; required for the
// ucan auth type, ignored for basic.
func WithManager(m *wallet.SessionManager) SyncerOption {
	return func(s *Syncer) { s.manager = m }
}

// WithMetaStore persists sync bookkeeping (last sync time) in store.
func WithMetaStore(store kv.Store) SyncerOption {
	return func(s *Syncer) { s.meta = store }
}

// WithNotifier sets the user-facing notification channel.
func WithNotifier(n notify.Notifier) SyncerOption {
	return func(s *Syncer) { s.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.log = log }
}

// WithSyncerClock injects a clock for tests.
func WithSyncerClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) { s.now = now }
}

// New builds a syncer over a local state store and a remote client.
func New(cfg Config, store StateStore, client cloud.Client, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		cfg:    cfg,
		store:  store,
		client: client,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.notifier == nil {
		s.notifier = notify.NewDeduper(notify.Log{Logger: s.log})
	}
	return s
}

// CloudSyncReady is the scheduler's fast readiness guard: endpoint
// configured, local state hydrated, and the backend plausibly
// authorized. Evaluated from local metadata only, no network or
// provider I/O.
func (s *Syncer) CloudSyncReady(ctx context.Context) bool {
	if !s.cfg.Endpoint().Configured() {
		return false
	}
	if !s.store.Hydrated() {
		return false
	}
	switch s.cfg.AuthType {
	case AuthUCAN:
		return s.manager != nil && s.manager.Authorized(ctx)
	default:
		return s.cfg.Username != ""
	}
}

// SyncOptions controls a Sync call.
type SyncOptions struct {
	// Interactive marks a user-initiated sync: the session key is
	// refreshed up front, and failures produce user notifications.
	// Background attempts rely on cached material and fail quietly into
	// the log.
	Interactive bool
}

// Sync runs one full reconciliation: fetch remote, merge, write back,
// push. An empty remote means no snapshot exists yet and the local
// snapshot is pushed verbatim. A remote parse failure leaves local
// state untouched. Single-flight per syncer.
func (s *Syncer) Sync(ctx context.Context, opts SyncOptions) error {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return ErrSyncInFlight
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	if !s.store.Hydrated() {
		return ErrNotReady
	}
	if s.cfg.AuthType == AuthUCAN && s.manager != nil && opts.Interactive {
		// A user-initiated sync is allowed one provider round-trip to
		// freshen the session before talking to the store.
		s.manager.Sessions().Refresh(ctx, s.manager.Provider())
	}

	local, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load local state: %w", err)
	}

	now := s.now()
	remote, err := s.client.Get(ctx, SnapshotKey)
	if err != nil {
		if opts.Interactive {
			s.notifier.Error("sync failed: could not reach the remote store")
		}
		return fmt.Errorf("fetch remote snapshot: %w", err)
	}

	if remote == "" {
		// No remote snapshot yet: seed it from local state.
		if err := s.push(ctx, local, now); err != nil {
			return err
		}
		s.MarkSyncTime(ctx)
		if opts.Interactive {
			s.notifier.Success("sync complete")
		}
		return nil
	}

	decoded, err := appstate.DecodeSnapshot([]byte(remote))
	if err != nil {
		// Local state stays untouched on a bad remote snapshot.
		s.notifier.Error("sync failed: remote snapshot is not valid")
		return fmt.Errorf("decode remote snapshot: %w", err)
	}

	merged := appstate.Merge(local, *decoded, now)
	if err := s.store.Replace(ctx, merged); err != nil {
		return fmt.Errorf("write back merged state: %w", err)
	}
	if err := s.push(ctx, merged, now); err != nil {
		return err
	}
	s.MarkSyncTime(ctx)
	if opts.Interactive {
		s.notifier.Success("sync complete")
	}
	return nil
}

func (s *Syncer) push(ctx context.Context, state appstate.AppState, now time.Time) error {
	data, err := appstate.EncodeSnapshot(appstate.ForSync(state, now))
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, SnapshotKey, string(data)); err != nil {
		return fmt.Errorf("push snapshot: %w", err)
	}
	return nil
}

// Check probes the remote store.
func (s *Syncer) Check(ctx context.Context) bool {
	return s.client.Check(ctx)
}

// Export writes the full local snapshot to w.
func (s *Syncer) Export(ctx context.Context, w io.Writer) error {
	state, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load local state: %w", err)
	}
	data, err := appstate.EncodeSnapshot(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// Import merges a snapshot read from r into local state. A parse
// failure is reported and leaves local state untouched.
func (s *Syncer) Import(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read import: %w", err)
	}
	decoded, err := appstate.DecodeSnapshot(data)
	if err != nil {
		s.notifier.Error("import failed: file is not a valid backup")
		return fmt.Errorf("decode import: %w", err)
	}
	local, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load local state: %w", err)
	}
	merged := appstate.Merge(local, *decoded, s.now())
	if err := s.store.Replace(ctx, merged); err != nil {
		return fmt.Errorf("write back imported state: %w", err)
	}
	s.notifier.Success("backup imported")
	return nil
}

// MarkSyncTime records the completion instant of the last successful
// sync.
func (s *Syncer) MarkSyncTime(ctx context.Context) {
	if s.meta == nil {
		return
	}
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.meta.Set(ctx, keyLastSyncTime, []byte(ts)); err != nil {
		s.log.Warn("record sync time failed", slog.String("err", err.Error()))
	}
}

// LastSyncTime returns the recorded last successful sync, zero when
// none.
func (s *Syncer) LastSyncTime(ctx context.Context) time.Time {
	if s.meta == nil {
		return time.Time{}
	}
	raw, err := s.meta.Get(ctx, keyLastSyncTime)
	if err != nil || raw == nil {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Streaming reports whether local state is mid-stream; exposed for the
// scheduler's defer decision.
func (s *Syncer) Streaming() bool { return s.store.Streaming() }

// SignPending reports whether a wallet signature is currently pending.
func (s *Syncer) SignPending() bool {
	return s.manager != nil && s.manager.SignLock().Pending()
}
