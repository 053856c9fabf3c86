// Package cloud implements the remote snapshot store clients: a
// basic-auth WebDAV-style client and a capability-token client that
// derives scoped invocation tokens from the wallet's root proof. Both
// sit behind one Client contract so the syncer does not care which
// authentication mode a deployment uses.
package cloud

import (
	"context"
	"errors"
)

// Storage layout on the remote store.
const (
	// DefaultFolder is the collection holding the backup when no
	// app-scoped directory applies.
	DefaultFolder = "yeying-chat-store"
	// BackupFilename is the single snapshot blob per directory.
	BackupFilename = "backup.json"
	// DefaultFile is the backup path under DefaultFolder.
	DefaultFile = DefaultFolder + "/" + BackupFilename
)

// Client is the narrow remote store contract. Get returns "" for a
// missing key: absence is an expected state (no remote snapshot yet),
// not an error.
type Client interface {
	// Check probes whether the remote store is reachable and the
	// client's credentials are plausibly accepted.
	Check(ctx context.Context) bool

	// Get fetches the snapshot blob for key; "" when none exists.
	Get(ctx context.Context, key string) (string, error)

	// Set uploads the snapshot blob for key.
	Set(ctx context.Context, key, value string) error
}

// ErrNotConfigured indicates the remote store's endpoint resolution
// produced no usable target; the sync attempt must abort before any
// network call.
var ErrNotConfigured = errors.New("cloud: remote store not configured")

// ErrNoSession indicates session key material could not be obtained;
// callers treat it as "try again later".
var ErrNoSession = errors.New("cloud: ucan session not available")
