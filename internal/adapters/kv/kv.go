// Package kv provides a small key-value store with a Redis implementation
// and a process-local fallback.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss is returned by Get for absent or expired keys.
	ErrMiss = errors.New("kv: key not found")
	// ErrNotInteger is returned by Incr when the stored value is not an integer.
	ErrNotInteger = errors.New("kv: value is not an integer")
)

// Store is the subset of cache operations the service relies on.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// Set stores value. A ttl of zero keeps the key until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// Incr adds one to an integer key, creating it at 1, and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Ping(ctx context.Context) error
}
