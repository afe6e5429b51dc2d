// Package cache provides decision caches for the rowguard engine.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/rowguard"
)

// Compile-time interface check.
var _ rowguard.Cache = (*Memory)(nil)

// Memory is an in-process decision cache with TTL-based expiration.
// Entries are indexed by tenant and resource so a policy mutation only
// scans the decisions of its own resource.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*entry
	byScope map[scopeIndex]map[string]struct{}
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type scopeIndex struct {
	tenantID   string
	resourceID string
}

type entry struct {
	key       rowguard.DecisionKey
	decision  *rowguard.Decision
	expiresAt time.Time
}

// MemoryOption configures the memory cache.
type MemoryOption func(*Memory)

// WithTTL sets the cache entry time-to-live. Non-positive values keep the default.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithMaxSize sets the maximum number of cache entries.
func WithMaxSize(n int) MemoryOption {
	return func(m *Memory) { m.maxSize = n }
}

// NewMemory creates a new in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]*entry),
		byScope: make(map[scopeIndex]map[string]struct{}),
		ttl:     5 * time.Minute,
		maxSize: 10000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Len returns the number of cached entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Get returns a cached decision.
func (m *Memory) Get(_ context.Context, key *rowguard.DecisionKey) (*rowguard.Decision, bool) {
	k := key.String()
	m.mu.RLock()
	e, ok := m.entries[k]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		// A concurrent Set may have refreshed the entry.
		if cur, ok := m.entries[k]; ok && m.now().After(cur.expiresAt) {
			m.remove(k)
		}
		m.mu.Unlock()
		return nil, false
	}
	return e.decision, true
}

// Set stores a decision in the cache.
func (m *Memory) Set(_ context.Context, key *rowguard.DecisionKey, d *rowguard.Decision, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}
	k := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[k]; !exists && len(m.entries) >= m.maxSize {
		m.evictExpired()
		if len(m.entries) >= m.maxSize {
			m.evictOne()
		}
	}

	stored := *key
	stored.Subjects = append([]rowguard.Subject(nil), key.Subjects...)
	m.entries[k] = &entry{key: stored, decision: d, expiresAt: m.now().Add(ttl)}

	idx := scopeIndex{tenantID: key.TenantID, resourceID: key.ResourceID}
	if m.byScope[idx] == nil {
		m.byScope[idx] = make(map[string]struct{})
	}
	m.byScope[idx][k] = struct{}{}
	return nil
}

// Invalidate removes the decisions of the scope's resource that involve the
// scope's subject.
func (m *Memory) Invalidate(_ context.Context, tenantID string, scope rowguard.ScopeKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.byScope[scopeIndex{tenantID: tenantID, resourceID: scope.ResourceID}] {
		if e, ok := m.entries[k]; ok && e.key.Covers(scope) {
			m.remove(k)
		}
	}
	return nil
}

// InvalidateTenant removes all cached decisions for a tenant.
func (m *Memory) InvalidateTenant(_ context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for idx, keys := range m.byScope {
		if idx.tenantID != tenantID {
			continue
		}
		for k := range keys {
			delete(m.entries, k)
		}
		delete(m.byScope, idx)
	}
	return nil
}

// remove deletes one entry and its index slot. Must hold write lock.
func (m *Memory) remove(k string) {
	e, ok := m.entries[k]
	if !ok {
		return
	}
	delete(m.entries, k)
	idx := scopeIndex{tenantID: e.key.TenantID, resourceID: e.key.ResourceID}
	if keys := m.byScope[idx]; keys != nil {
		delete(keys, k)
		if len(keys) == 0 {
			delete(m.byScope, idx)
		}
	}
}

// evictExpired removes all expired entries. Must hold write lock.
func (m *Memory) evictExpired() {
	now := m.now()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			m.remove(k)
		}
	}
}

// evictOne removes one arbitrary entry. Must hold write lock.
func (m *Memory) evictOne() {
	for k := range m.entries {
		m.remove(k)
		return
	}
}
