package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type item struct {
	value   string
	expires time.Time // zero = no ttl
}

// Memory is a process-local Store used when Redis is not configured or
// unreachable. Expired keys are removed lazily on access.
type Memory struct {
	mu   sync.Mutex
	data map[string]item
	now  func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]item), now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// live returns the entry for key if present and unexpired. Caller holds mu.
func (m *Memory) live(key string) (item, bool) {
	it, ok := m.data[key]
	if !ok {
		return item{}, false
	}
	if !it.expires.IsZero() && !m.now().Before(it.expires) {
		delete(m.data, key)
		return item{}, false
	}
	return it, true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.live(key)
	if !ok {
		return "", ErrMiss
	}
	return it.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.data[key] = item{value: value, expires: exp}
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, _ := m.live(key)
	var n int64
	if it.value != "" {
		var err error
		if n, err = strconv.ParseInt(it.value, 10, 64); err != nil {
			return 0, ErrNotInteger
		}
	}
	n++
	it.value = strconv.FormatInt(n, 10)
	m.data[key] = it
	return n, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.live(key)
	if !ok {
		return nil
	}
	if ttl <= 0 {
		delete(m.data, key)
		return nil
	}
	it.expires = m.now().Add(ttl)
	m.data[key] = it
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
