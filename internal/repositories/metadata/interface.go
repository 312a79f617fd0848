package metadata

import (
	"context"
	"time"
)

// Keys used by the engine.
const (
	KeyLastPreloadAt = "last_preload_at"
	KeyAuthToken     = "auth_token"
	KeyOfflineSince  = "offline_since"
)

// Repository is a small key/value table for engine bookkeeping.
type Repository interface {
	// Get returns (nil, nil) for an absent key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// GetTime decodes a timestamp written by SetTime; absent keys yield nil.
	GetTime(ctx context.Context, key string) (*time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
	// SetTimeIfAbsent writes t only when key is unset and reports whether
	// it did.
	SetTimeIfAbsent(ctx context.Context, key string, t time.Time) (bool, error)
}
