// Package memory provides an in-memory implementation of the rowguard
// composite store. It is intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/rowguard/changelog"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/store"
)

// Compile-time interface checks.
var (
	_ policy.Store    = (*Store)(nil)
	_ changelog.Store = (*Store)(nil)
	_ store.Store     = (*Store)(nil)
)

// Store is a thread-safe in-memory store for policies and change entries.
// A single mutex serialises writes, so every replace is seen whole.
type Store struct {
	mu sync.RWMutex

	policies map[string]*policy.Policy
	changes  map[string]*changelog.Entry
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		policies: make(map[string]*policy.Policy),
		changes:  make(map[string]*changelog.Entry),
	}
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Policy Store
// ──────────────────────────────────────────────────

func (s *Store) CreatePolicy(_ context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID.String()]; ok {
		return fmt.Errorf("policy %s: %w", p.ID, policy.ErrAlreadyExists)
	}
	s.policies[p.ID.String()] = p.Clone()
	return nil
}

func (s *Store) GetPolicy(_ context.Context, polID id.PolicyID) (*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[polID.String()]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", polID, policy.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *Store) UpdatePolicy(_ context.Context, p *policy.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[p.ID.String()]; !ok {
		return fmt.Errorf("policy %s: %w", p.ID, policy.ErrNotFound)
	}
	s.policies[p.ID.String()] = p.Clone()
	return nil
}

func (s *Store) SoftDeletePolicy(_ context.Context, polID id.PolicyID, deletedBy string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[polID.String()]
	if !ok {
		return fmt.Errorf("policy %s: %w", polID, policy.ErrNotFound)
	}
	c := p.Clone()
	c.Deleted = true
	c.DeletedBy = deletedBy
	c.DeletedAt = &at
	c.UpdatedBy = deletedBy
	c.UpdatedAt = at
	c.Version++
	s.policies[polID.String()] = c
	return nil
}

func (s *Store) ListPolicies(_ context.Context, filter *policy.ListFilter) ([]*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*policy.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		if matchPolicy(p, filter) {
			result = append(result, p.Clone())
		}
	}
	slices.SortFunc(result, comparePolicies)
	return applyPagination(result, paginationOptsPol(filter)), nil
}

func (s *Store) CountPolicies(_ context.Context, filter *policy.ListFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, p := range s.policies {
		if matchPolicy(p, filter) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListPoliciesForResource(_ context.Context, tenantID string, rt policy.ResourceType, resourceID string) ([]*policy.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*policy.Policy
	for _, p := range s.policies {
		if p.TenantID == tenantID && p.ResourceType == rt && p.ResourceID == resourceID && !p.Deleted {
			result = append(result, p.Clone())
		}
	}
	return result, nil
}

func (s *Store) DeletePoliciesByTenant(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, p := range s.policies {
		if p.TenantID == tenantID {
			delete(s.policies, k)
		}
	}
	return nil
}

func matchPolicy(p *policy.Policy, f *policy.ListFilter) bool {
	if f == nil {
		return !p.Deleted
	}
	switch {
	case f.DeletedOnly && !p.Deleted:
		return false
	case !f.DeletedOnly && !f.IncludeDeleted && p.Deleted:
		return false
	case f.TenantID != "" && p.TenantID != f.TenantID:
		return false
	case f.ResourceType != "" && p.ResourceType != f.ResourceType:
		return false
	case f.ResourceID != "" && p.ResourceID != f.ResourceID:
		return false
	case f.SubjectType != "" && p.SubjectType != f.SubjectType:
		return false
	case f.SubjectID != "" && p.SubjectID != f.SubjectID:
		return false
	case f.PermissionType != "" && p.PermissionType != f.PermissionType:
		return false
	case f.Effect != "" && p.Effect != f.Effect:
		return false
	case f.Status != "" && p.Status != f.Status:
		return false
	case f.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Search)):
		return false
	}
	return true
}

func comparePolicies(a, b *policy.Policy) int {
	if a.Priority != b.Priority {
		if a.Priority < b.Priority {
			return -1
		}
		return 1
	}
	return id.Compare(a.ID, b.ID)
}

// ──────────────────────────────────────────────────
// Change Log Store
// ──────────────────────────────────────────────────

func (s *Store) AppendChange(_ context.Context, e *changelog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes[e.ID.String()] = copyChange(e)
	return nil
}

func (s *Store) ListChanges(_ context.Context, filter *changelog.QueryFilter) ([]*changelog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*changelog.Entry, 0, len(s.changes))
	for _, e := range s.changes {
		if matchChange(e, filter) {
			result = append(result, copyChange(e))
		}
	}
	slices.SortFunc(result, func(a, b *changelog.Entry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return id.Compare(b.ID, a.ID)
	})
	return applyPagination(result, paginationOptsCL(filter)), nil
}

func (s *Store) CountChanges(_ context.Context, filter *changelog.QueryFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.changes {
		if matchChange(e, filter) {
			n++
		}
	}
	return n, nil
}

func (s *Store) PurgeChanges(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for k, e := range s.changes {
		if e.CreatedAt.Before(before) {
			delete(s.changes, k)
			count++
		}
	}
	return count, nil
}

func matchChange(e *changelog.Entry, f *changelog.QueryFilter) bool {
	if f == nil {
		return true
	}
	switch {
	case f.TenantID != "" && e.TenantID != f.TenantID:
		return false
	case !f.PolicyID.IsNil() && e.PolicyID.String() != f.PolicyID.String():
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.Actor != "" && e.Actor != f.Actor:
		return false
	case f.ResourceID != "" && e.ResourceID != f.ResourceID:
		return false
	case f.After != nil && e.CreatedAt.Before(*f.After):
		return false
	case f.Before != nil && e.CreatedAt.After(*f.Before):
		return false
	}
	return true
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func copyChange(e *changelog.Entry) *changelog.Entry {
	c := *e
	c.Snapshot = slices.Clone(e.Snapshot)
	return &c
}

// Pagination helpers.
type pagOpts struct{ limit, offset int }

func applyPagination[T any](items []*T, p pagOpts) []*T {
	if p.offset > 0 && p.offset < len(items) {
		items = items[p.offset:]
	} else if p.offset > 0 && p.offset >= len(items) {
		return nil
	}
	if p.limit > 0 && p.limit < len(items) {
		items = items[:p.limit]
	}
	return items
}

func paginationOptsPol(f *policy.ListFilter) pagOpts {
	if f == nil {
		return pagOpts{}
	}
	return pagOpts{limit: f.Limit, offset: f.Offset}
}

func paginationOptsCL(f *changelog.QueryFilter) pagOpts {
	if f == nil {
		return pagOpts{}
	}
	return pagOpts{limit: f.Limit, offset: f.Offset}
}
