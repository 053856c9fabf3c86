// Package logctx decorates slog records with request-scoped sync and
// wallet attributes carried in the context. Install Handler at logger
// construction; callers attach data with the With* helpers and every
// log line in that call tree carries the groups.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps a slog.Handler and appends context-carried groups to
// every record.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sa, ok := ctx.Value(syncAttemptKey{}).(*SyncAttempt); ok {
		r.AddAttrs(slog.Group("sync",
			slog.String("id", sa.ID),
			slog.String("trigger", sa.Trigger),
		))
	}
	if wd, ok := ctx.Value(walletDataKey{}).(*WalletData); ok {
		r.AddAttrs(slog.Group("wallet",
			slog.String("account", wd.Account),
			slog.String("session_id", wd.SessionID),
		))
	}
	return h.Handler.Handle(ctx, r)
}

type syncAttemptKey struct{}

// SyncAttempt identifies one scheduler-initiated sync.
type SyncAttempt struct {
	ID      string
	Trigger string
}

// WithSyncAttempt attaches attempt data to the context.
func WithSyncAttempt(ctx context.Context, sa *SyncAttempt) context.Context {
	return context.WithValue(ctx, syncAttemptKey{}, sa)
}

type walletDataKey struct{}

// WalletData identifies the wallet session a call tree operates on.
type WalletData struct {
	Account   string
	SessionID string
}

// WithWallet attaches wallet session data to the context.
func WithWallet(ctx context.Context, wd *WalletData) context.Context {
	return context.WithValue(ctx, walletDataKey{}, wd)
}
