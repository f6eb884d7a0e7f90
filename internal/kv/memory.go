package kv

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMaxEntries = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means the store's default TTL applies
}

// MemoryStore is an in-process Store backed by an expirable LRU. Entries
// expire after their own TTL or the store default, whichever is sooner.
type MemoryStore struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

// NewMemoryStore creates a MemoryStore. A zero defaultTTL keeps entries
// until they are evicted.
func NewMemoryStore(maxEntries int, defaultTTL time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryStore{
		lru: expirable.NewLRU[string, memoryEntry](maxEntries, nil, defaultTTL),
		now: time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.lru.Remove(key)
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, k := range m.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.lru.Remove(k)
		}
	}
	return nil
}

// Len returns the number of live entries
func (m *MemoryStore) Len() int {
	return m.lru.Len()
}

func (m *MemoryStore) Close() error {
	m.lru.Purge()
	return nil
}
