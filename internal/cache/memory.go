package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// Memory is an in-process backend. Expired entries are dropped when read,
// overwritten, matched by DeleteMatching or swept.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *Memory) live(e memoryEntry) bool {
	return e.expires.IsZero() || m.now().Before(e.expires)
}

// lookup returns the live entry for key. An expired entry found on the way
// is removed.
func (m *Memory) lookup(key string) (memoryEntry, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return memoryEntry{}, false
	}
	if m.live(e) {
		return e, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// a concurrent Set may have replaced it
	if cur, ok := m.entries[key]; ok && !m.live(cur) {
		delete(m.entries, key)
	}
	return memoryEntry{}, false
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	e, ok := m.lookup(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	delete(m.entries, key)
	return ok && m.live(e), nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.lookup(key)
	return ok, nil
}

// Sweep drops every expired entry and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, e := range m.entries {
		if !m.live(e) {
			delete(m.entries, key)
			n++
		}
	}
	return n
}

// SweepEvery runs Sweep on interval until ctx ends.
func (m *Memory) SweepEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Memory) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) DeleteMatching(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, e := range m.entries {
		matched, err := path.Match(pattern, key)
		if err != nil {
			return n, err
		}
		if !matched {
			continue
		}
		if m.live(e) {
			n++
		}
		delete(m.entries, key)
	}
	return n, nil
}
