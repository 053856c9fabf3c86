// Package kv defines the durable local key-value store the wallet and
// sync subsystems persist their small records into: the connected
// account, root-proof metadata, UI flags and the recent-accounts
// history. Implementations live in kv/memory, kv/file and kv/redis.
package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store closed")

// Store is a flat byte-oriented key-value store.
//
// Get returns (nil, nil) for a missing key; errors are reserved for
// storage system failures. Writes must be durable by the time Set
// returns, to the extent the backend supports durability at all.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Watchable is implemented by stores that can observe external
// modification of their backing data (another process writing the
// file, another client writing the same Redis keys). The callback runs
// on the store's watch goroutine and must not block.
type Watchable interface {
	Watch(fn func()) (cancel func(), err error)
}
