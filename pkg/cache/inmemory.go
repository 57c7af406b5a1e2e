package cache

import (
	"context"
	"sync"
	"time"
)

// InMemory is a process-local Cache implementation. It is used by this
// module's own test suites, and is suitable for single-process deployments
// where a real Redis instance is not warranted.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

type memEntry struct {
	value   string
	expires time.Time
}

// NewInMemory builds an empty InMemory cache.
func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]memEntry)}
}

func (m *InMemory) fullKey(mapName, key string) string { return mapName + ":" + key }

func (m *InMemory) Get(_ context.Context, mapName, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[m.fullKey(mapName, key)]
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *InMemory) Set(ctx context.Context, mapName, key, value string) error {
	return m.SetWithTTL(ctx, mapName, key, value, 0)
}

func (m *InMemory) SetWithTTL(_ context.Context, mapName, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.entries[m.fullKey(mapName, key)] = memEntry{value: value, expires: exp}
	return nil
}

func (m *InMemory) Exists(ctx context.Context, mapName, key string) (bool, error) {
	_, ok, err := m.Get(ctx, mapName, key)
	return ok, err
}

func (m *InMemory) Remove(_ context.Context, mapName, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, m.fullKey(mapName, key))
	return nil
}

func (m *InMemory) PutIfAbsent(_ context.Context, mapName, key, value string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fk := m.fullKey(mapName, key)
	if e, ok := m.entries[fk]; ok && (e.expires.IsZero() || time.Now().Before(e.expires)) {
		return e.value, true, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.entries[fk] = memEntry{value: value, expires: exp}
	return "", false, nil
}

func (m *InMemory) GetAllEntries(_ context.Context, mapName string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := mapName + ":"
	out := make(map[string]string)
	for fk, e := range m.entries {
		if len(fk) > len(prefix) && fk[:len(prefix)] == prefix {
			if !e.expires.IsZero() && time.Now().After(e.expires) {
				continue
			}
			out[fk[len(prefix):]] = e.value
		}
	}
	return out, nil
}

func (m *InMemory) Size(ctx context.Context, mapName string) (int64, error) {
	entries, err := m.GetAllEntries(ctx, mapName)
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}

func (m *InMemory) IsHealthy(context.Context) bool { return true }
