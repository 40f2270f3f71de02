package services

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SetCall records one Set on a MockCache.
type SetCall struct {
	Key        string
	Value      interface{}
	Expiration time.Duration
}

type mockEntry struct {
	value   string
	expires time.Time
}

// MockCache is an in-memory Cache for tests. Func fields override the
// default behaviour; every call is recorded either way. Entries honour
// their expiration against Now, which tests may replace.
type MockCache struct {
	PingFunc func(ctx context.Context) error
	SetFunc  func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetFunc  func(ctx context.Context, key string) (string, error)
	DelFunc  func(ctx context.Context, keys ...string) error

	Now func() time.Time

	PingCalls int
	SetCalls  []SetCall
	GetCalls  []string
	DelCalls  [][]string
	Closed    bool

	mu      sync.Mutex
	entries map[string]mockEntry
}

var _ Cache = (*MockCache)(nil)

func NewMockCache() *MockCache {
	return &MockCache{
		Now:     time.Now,
		entries: make(map[string]mockEntry),
	}
}

// SetPingError makes every Ping fail with err.
func (m *MockCache) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PingFunc = func(context.Context) error { return err }
}

func (m *MockCache) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PingCalls++
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls = append(m.SetCalls, SetCall{Key: key, Value: value, Expiration: expiration})
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, expiration)
	}

	e := mockEntry{value: fmt.Sprint(value)}
	if b, ok := value.([]byte); ok {
		e.value = string(b)
	}
	if expiration > 0 {
		e.expires = m.Now().Add(expiration)
	}
	m.entries[key] = e
	return nil
}

func (m *MockCache) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls = append(m.GetCalls, key)
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}

	e, ok := m.entries[key]
	if !ok {
		return "", nil
	}
	if !e.expires.IsZero() && !m.Now().Before(e.expires) {
		delete(m.entries, key)
		return "", nil
	}
	return e.value, nil
}

func (m *MockCache) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DelCalls = append(m.DelCalls, keys)
	if m.DelFunc != nil {
		return m.DelFunc(ctx, keys...)
	}
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *MockCache) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockCache) WaitForConnection(ctx context.Context) error {
	return m.Ping(ctx)
}
