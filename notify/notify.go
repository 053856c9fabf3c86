// Package notify is the user-facing notification channel for the sync
// and wallet subsystems. Failures that the user can act on (wallet not
// detected, signature rejected) go through a Notifier; a Deduper keeps
// retry loops from repeating the same message in a tight window.
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultDedupeWindow suppresses an identical message repeated within
// this interval.
const DefaultDedupeWindow = 1500 * time.Millisecond

// Notifier delivers user-visible messages. Implementations must be safe
// for concurrent use.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Error(msg string)
}

// Log is a Notifier that writes to a slog.Logger. It is the default
// sink for headless deployments.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l Log) Info(msg string) { l.logger().Info(msg, slog.String("channel", "notify")) }
func (l Log) Success(msg string) {
	l.logger().Info(msg, slog.String("channel", "notify"), slog.Bool("ok", true))
}
func (l Log) Error(msg string) { l.logger().Warn(msg, slog.String("channel", "notify")) }

// Discard drops every notification. Useful in tests that assert on
// behavior, not messaging.
type Discard struct{}

func (Discard) Info(string)    {}
func (Discard) Success(string) {}
func (Discard) Error(string)   {}

// Deduper wraps a Notifier and suppresses a message repeated (at the
// same level) within the window.
type Deduper struct {
	next   Notifier
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	recent map[string]time.Time
}

// DeduperOption configures a Deduper.
type DeduperOption func(*Deduper)

// WithWindow overrides DefaultDedupeWindow.
func WithWindow(d time.Duration) DeduperOption {
	return func(dd *Deduper) { dd.window = d }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) DeduperOption {
	return func(dd *Deduper) { dd.now = now }
}

// NewDeduper wraps next with de-duplication.
func NewDeduper(next Notifier, opts ...DeduperOption) *Deduper {
	d := &Deduper{
		next:   next,
		window: DefaultDedupeWindow,
		now:    time.Now,
		recent: map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Deduper) allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.recent[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.recent[key] = now
	// Drop stale entries so the map does not grow with message
	// cardinality.
	for k, at := range d.recent {
		if now.Sub(at) >= d.window {
			delete(d.recent, k)
		}
	}
	return true
}

func (d *Deduper) Info(msg string) {
	if d.allow("info:" + msg) {
		d.next.Info(msg)
	}
}

func (d *Deduper) Success(msg string) {
	if d.allow("success:" + msg) {
		d.next.Success(msg)
	}
}

func (d *Deduper) Error(msg string) {
	if d.allow("error:" + msg) {
		d.next.Error(msg)
	}
}

var (
	_ Notifier = Log{}
	_ Notifier = Discard{}
	_ Notifier = (*Deduper)(nil)
)
