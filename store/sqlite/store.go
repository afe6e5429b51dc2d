// Package sqlite provides a SQLite implementation of the rowguard composite
// store using grove with Go-based migrations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/rowguard/changelog"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a SQLite implementation of the composite rowguard store.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("rowguard/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("rowguard/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports a primary key or unique index collision.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// where is one filter predicate with its single bind argument.
type where struct {
	expr string
	arg  any
}

// policyFilter translates a list filter into predicates.
func policyFilter(f *policy.ListFilter) []where {
	if f == nil {
		return []where{{"deleted = ?", false}}
	}
	var ws []where
	switch {
	case f.DeletedOnly:
		ws = append(ws, where{"deleted = ?", true})
	case !f.IncludeDeleted:
		ws = append(ws, where{"deleted = ?", false})
	}
	if f.TenantID != "" {
		ws = append(ws, where{"tenant_id = ?", f.TenantID})
	}
	if f.ResourceType != "" {
		ws = append(ws, where{"resource_type = ?", string(f.ResourceType)})
	}
	if f.ResourceID != "" {
		ws = append(ws, where{"resource_id = ?", f.ResourceID})
	}
	if f.SubjectType != "" {
		ws = append(ws, where{"subject_type = ?", string(f.SubjectType)})
	}
	if f.SubjectID != "" {
		ws = append(ws, where{"subject_id = ?", f.SubjectID})
	}
	if f.PermissionType != "" {
		ws = append(ws, where{"permission_type = ?", string(f.PermissionType)})
	}
	if f.Effect != "" {
		ws = append(ws, where{"effect = ?", string(f.Effect)})
	}
	if f.Status != "" {
		ws = append(ws, where{"status = ?", string(f.Status)})
	}
	if f.Search != "" {
		ws = append(ws, where{"LOWER(name) LIKE LOWER(?)", "%" + f.Search + "%"})
	}
	return ws
}

func changeFilter(f *changelog.QueryFilter) []where {
	if f == nil {
		return nil
	}
	var ws []where
	if f.TenantID != "" {
		ws = append(ws, where{"tenant_id = ?", f.TenantID})
	}
	if !f.PolicyID.IsNil() {
		ws = append(ws, where{"policy_id = ?", f.PolicyID.String()})
	}
	if f.Action != "" {
		ws = append(ws, where{"action = ?", string(f.Action)})
	}
	if f.Actor != "" {
		ws = append(ws, where{"actor = ?", f.Actor})
	}
	if f.ResourceID != "" {
		ws = append(ws, where{"resource_id = ?", f.ResourceID})
	}
	if f.After != nil {
		ws = append(ws, where{"created_at >= ?", *f.After})
	}
	if f.Before != nil {
		ws = append(ws, where{"created_at <= ?", *f.Before})
	}
	return ws
}

// ──────────────────────────────────────────────────
// Policy operations
// ──────────────────────────────────────────────────

func (s *Store) CreatePolicy(ctx context.Context, p *policy.Policy) error {
	m, err := policyToModel(p)
	if err != nil {
		return fmt.Errorf("rowguard: create policy: %w", err)
	}
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("policy %s: %w", p.ID, policy.ErrAlreadyExists)
		}
		return fmt.Errorf("rowguard: create policy: %w", err)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, polID id.PolicyID) (*policy.Policy, error) {
	m := new(policyModel)
	err := s.sdb.NewSelect(m).Where("id = ?", polID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("policy %s: %w", polID, policy.ErrNotFound)
		}
		return nil, fmt.Errorf("rowguard: get policy: %w", err)
	}
	p, err := policyFromModel(m)
	if err != nil {
		return nil, fmt.Errorf("rowguard: get policy: %w", err)
	}
	return p, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p *policy.Policy) error {
	m, err := policyToModel(p)
	if err != nil {
		return fmt.Errorf("rowguard: update policy: %w", err)
	}
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: update policy: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("policy %s: %w", p.ID, policy.ErrNotFound)
	}
	return nil
}

func (s *Store) SoftDeletePolicy(ctx context.Context, polID id.PolicyID, deletedBy string, at time.Time) error {
	res, err := s.sdb.NewUpdate((*policyModel)(nil)).
		Set("deleted = ?", true).
		Set("deleted_by = ?", deletedBy).
		Set("deleted_at = ?", at).
		Set("updated_by = ?", deletedBy).
		Set("updated_at = ?", at).
		Set("version = version + ?", 1).
		Where("id = ?", polID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: soft delete policy: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("policy %s: %w", polID, policy.ErrNotFound)
	}
	return nil
}

func (s *Store) ListPolicies(ctx context.Context, filter *policy.ListFilter) ([]*policy.Policy, error) {
	var models []policyModel
	q := s.sdb.NewSelect(&models).OrderExpr("priority ASC, id ASC")
	for _, w := range policyFilter(filter) {
		q = q.Where(w.expr, w.arg)
	}
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rowguard: list policies: %w", err)
	}
	return policiesFromModels(models)
}

func (s *Store) CountPolicies(ctx context.Context, filter *policy.ListFilter) (int64, error) {
	q := s.sdb.NewSelect((*policyModel)(nil))
	for _, w := range policyFilter(filter) {
		q = q.Where(w.expr, w.arg)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: count policies: %w", err)
	}
	return count, nil
}

func (s *Store) ListPoliciesForResource(ctx context.Context, tenantID string, rt policy.ResourceType, resourceID string) ([]*policy.Policy, error) {
	var models []policyModel
	err := s.sdb.NewSelect(&models).
		Where("tenant_id = ?", tenantID).
		Where("resource_type = ?", string(rt)).
		Where("resource_id = ?", resourceID).
		Where("deleted = ?", false).
		OrderExpr("priority ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rowguard: list policies for resource: %w", err)
	}
	return policiesFromModels(models)
}

func (s *Store) DeletePoliciesByTenant(ctx context.Context, tenantID string) error {
	_, err := s.sdb.NewDelete((*policyModel)(nil)).
		Where("tenant_id = ?", tenantID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: delete policies by tenant: %w", err)
	}
	return nil
}

func policiesFromModels(models []policyModel) ([]*policy.Policy, error) {
	result := make([]*policy.Policy, len(models))
	for i := range models {
		p, err := policyFromModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("rowguard: decode policy %s: %w", models[i].ID, err)
		}
		result[i] = p
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Change log operations
// ──────────────────────────────────────────────────

func (s *Store) AppendChange(ctx context.Context, e *changelog.Entry) error {
	if _, err := s.sdb.NewInsert(changeToModel(e)).Exec(ctx); err != nil {
		return fmt.Errorf("rowguard: append change: %w", err)
	}
	return nil
}

func (s *Store) ListChanges(ctx context.Context, filter *changelog.QueryFilter) ([]*changelog.Entry, error) {
	var models []changeModel
	q := s.sdb.NewSelect(&models).OrderExpr("created_at DESC, id DESC")
	for _, w := range changeFilter(filter) {
		q = q.Where(w.expr, w.arg)
	}
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rowguard: list changes: %w", err)
	}
	result := make([]*changelog.Entry, len(models))
	for i := range models {
		result[i] = changeFromModel(&models[i])
	}
	return result, nil
}

func (s *Store) CountChanges(ctx context.Context, filter *changelog.QueryFilter) (int64, error) {
	q := s.sdb.NewSelect((*changeModel)(nil))
	for _, w := range changeFilter(filter) {
		q = q.Where(w.expr, w.arg)
	}
	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: count changes: %w", err)
	}
	return count, nil
}

func (s *Store) PurgeChanges(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*changeModel)(nil)).
		Where("created_at < ?", before).Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: purge changes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rowguard: purge changes rows: %w", err)
	}
	return n, nil
}
