package domain

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by KVStore.Get for an absent key.
var ErrKeyNotFound = errors.New("storage: key not found")

// KVStore is the durable key-value port used to persist grid snapshots. The
// production drivers live under internal/infra/persistence.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Close() error
}
