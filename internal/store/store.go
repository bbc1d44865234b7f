// Package store abstracts the distributed key-value service shared across
// engine instances. The redis implementation backs production; the memory
// implementation backs tests and single-node development.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("key not found in store")
)

// KV is the slice of key-value behavior the engine actually uses: the
// secret/snapshot stash and expiring flags.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
