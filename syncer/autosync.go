package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yeying-community/ucansync/internal/logctx"
)

// AutoSync schedules background sync attempts. Triggers share one
// debounce window; the startup attempt and the interval tick fire
// without debouncing. Attempts run the full guard chain and at most
// one sync is in flight per scheduler.
type AutoSync struct {
	syncer   *Syncer
	interval time.Duration
	debounce time.Duration
	log      *slog.Logger

	mu            sync.Mutex
	enabled       bool
	started       bool
	ctx           context.Context
	cancel        context.CancelFunc
	debounceTimer *time.Timer
	authCancel    func()
}

// AutoSyncOption configures an AutoSync.
type AutoSyncOption func(*AutoSync)

// WithInterval overrides the configured sync interval.
func WithInterval(d time.Duration) AutoSyncOption {
	return func(a *AutoSync) { a.interval = d }
}

// WithDebounce overrides the configured debounce window.
func WithDebounce(d time.Duration) AutoSyncOption {
	return func(a *AutoSync) { a.debounce = d }
}

// WithAutoSyncLogger sets the logger.
func WithAutoSyncLogger(log *slog.Logger) AutoSyncOption {
	return func(a *AutoSync) { a.log = log }
}

// NewAutoSync builds a scheduler over s, enabled per s's config.
func NewAutoSync(s *Syncer, opts ...AutoSyncOption) *AutoSync {
	a := &AutoSync{
		syncer:   s,
		interval: s.cfg.SyncInterval,
		debounce: s.cfg.SyncDebounce,
		enabled:  s.cfg.AutoSyncEnabled,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.interval <= 0 {
		a.interval = 5 * time.Minute
	}
	if a.debounce <= 0 {
		a.debounce = 2 * time.Second
	}
	if a.log == nil {
		a.log = s.log
	}
	return a
}

// Start launches the scheduler: an immediate startup attempt, the
// interval ticker, and the authorization-change subscription. Stop (or
// cancelling ctx) tears everything down.
func (a *AutoSync) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	runCtx := a.ctx
	if a.syncer.manager != nil {
		// Re-evaluate on every authorization transition; becoming
		// authorized should sync promptly, losing authorization makes
		// the next attempt a cheap guard rejection.
		a.authCancel = a.syncer.manager.Events().Subscribe(authTrigger{a})
	}
	a.mu.Unlock()

	go a.attempt(runCtx, "startup")

	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				a.attempt(runCtx, "interval")
			}
		}
	}()
}

type authTrigger struct{ a *AutoSync }

func (t authTrigger) OnAuthChange()      { t.a.schedule("auth-change") }
func (t authTrigger) OnAuthError(string) {}

// Schedule requests a debounced sync attempt. Repeated calls within
// the window coalesce into one attempt at the window's end.
func (a *AutoSync) Schedule() { a.schedule("manual") }

func (a *AutoSync) schedule(trigger string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled || !a.started || a.ctx.Err() != nil {
		return
	}
	runCtx := a.ctx
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
	}
	a.debounceTimer = time.AfterFunc(a.debounce, func() { a.attempt(runCtx, trigger) })
}

// OnLocalChange reports a watched slice mutation.
func (a *AutoSync) OnLocalChange() { a.schedule("local-change") }

// OnVisible reports the application becoming visible again.
func (a *AutoSync) OnVisible() { a.schedule("visible") }

// SetEnabled toggles the scheduler. Disabling cancels any pending
// debounced attempt immediately.
func (a *AutoSync) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
	if !enabled && a.debounceTimer != nil {
		a.debounceTimer.Stop()
		a.debounceTimer = nil
	}
}

// Stop tears the scheduler down: timers cancelled, subscriptions
// removed. A stopped scheduler cannot be restarted.
func (a *AutoSync) Stop() {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
		a.debounceTimer = nil
	}
	authCancel := a.authCancel
	a.authCancel = nil
	a.mu.Unlock()
	if authCancel != nil {
		authCancel()
	}
}

// attempt runs the guard chain and, when it passes, one background
// sync. Failures are logged as failed attempts; the merge engine's
// idempotence makes a late or repeated attempt harmless.
func (a *AutoSync) attempt(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	a.mu.Lock()
	enabled := a.enabled
	a.mu.Unlock()
	if !enabled {
		return
	}
	ctx = logctx.WithSyncAttempt(ctx, &logctx.SyncAttempt{
		ID:      uuid.NewString(),
		Trigger: trigger,
	})
	if !a.syncer.CloudSyncReady(ctx) {
		a.log.DebugContext(ctx, "auto sync skipped: not ready")
		return
	}
	if a.syncer.SignPending() {
		a.log.DebugContext(ctx, "auto sync skipped: signature pending")
		return
	}
	if a.syncer.Streaming() {
		// Mid-stream content must not cross the sync boundary; try
		// again after the debounce window instead of dropping the
		// trigger.
		a.log.DebugContext(ctx, "auto sync deferred: response streaming")
		a.schedule(trigger)
		return
	}
	if err := a.syncer.Sync(ctx, SyncOptions{}); err != nil {
		if errors.Is(err, ErrSyncInFlight) {
			a.log.DebugContext(ctx, "auto sync skipped: already in flight")
			return
		}
		a.log.WarnContext(ctx, "auto sync failed", slog.String("err", err.Error()))
	}
}
