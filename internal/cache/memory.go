package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/j5272000/campus-imaotai/internal/errs"
)

// Memory is an in-process Cache used by tests and by the server when no
// redis address is configured.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func NewMemory() *Memory {
	return &Memory{entries: map[string]memEntry{}}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = memEntry{value: value, expiresAt: exp}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	e.expiresAt = time.Now().Add(ttl)
	m.entries[key] = e
	return nil
}

func (m *Memory) GetList(ctx context.Context, key string, dest any) (bool, error) {
	v, ok, err := m.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(v), dest); err != nil {
		return false, errs.Wrap(err, "decode cached list")
	}
	return true, nil
}

func (m *Memory) SetList(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(err, "encode cached list")
	}
	return m.Set(ctx, key, string(b), ttl)
}
