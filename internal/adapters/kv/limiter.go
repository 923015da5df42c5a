package kv

import (
	"context"
	"fmt"
	"time"
)

// Limiter is a fixed-window counter over a Store. Keys live for one window.
type Limiter struct {
	store  Store
	prefix string
	limit  int64
	window time.Duration
}

// NewLimiter allows limit hits per window for each key. A limit of zero or
// less disables limiting.
func NewLimiter(store Store, prefix string, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, prefix: prefix, limit: int64(limit), window: window}
}

// Allow records one hit for key and reports whether it is within the limit.
// Store errors are returned with allowed set so callers can fail open.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.limit <= 0 {
		return true, nil
	}
	k := l.prefix + key
	n, err := l.store.Incr(ctx, k)
	if err != nil {
		return true, fmt.Errorf("rate limit %s: %w", k, err)
	}
	if n == 1 {
		if err := l.store.Expire(ctx, k, l.window); err != nil {
			return true, fmt.Errorf("rate limit %s: %w", k, err)
		}
	}
	return n <= l.limit, nil
}
