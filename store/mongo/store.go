// Package mongo provides a MongoDB implementation of the rowguard composite
// store using grove's MongoDB driver.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/rowguard/changelog"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
	"github.com/xraph/rowguard/store"
)

// Collection name constants.
const (
	colPolicies = "rowguard_policies"
	colChanges  = "rowguard_policy_changes"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of the composite rowguard store.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Migrate creates indexes for all rowguard collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("rowguard/mongo: migrate %s indexes: %w", col, err)
		}
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

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all rowguard collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colPolicies: {
			{Keys: bson.D{
				{Key: "tenant_id", Value: 1},
				{Key: "resource_type", Value: 1},
				{Key: "resource_id", Value: 1},
				{Key: "deleted", Value: 1},
			}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "subject_type", Value: 1}, {Key: "subject_id", Value: 1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "priority", Value: 1}, {Key: "_id", Value: 1}}},
		},
		colChanges: {
			{Keys: bson.D{{Key: "policy_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{
				Keys:    bson.D{{Key: "created_at", Value: 1}},
				Options: options.Index().SetName("changes_created_at"),
			},
		},
	}
}

func policyFilter(f *policy.ListFilter) bson.M {
	if f == nil {
		return bson.M{"deleted": false}
	}
	m := bson.M{}
	switch {
	case f.DeletedOnly:
		m["deleted"] = true
	case !f.IncludeDeleted:
		m["deleted"] = false
	}
	if f.TenantID != "" {
		m["tenant_id"] = f.TenantID
	}
	if f.ResourceType != "" {
		m["resource_type"] = string(f.ResourceType)
	}
	if f.ResourceID != "" {
		m["resource_id"] = f.ResourceID
	}
	if f.SubjectType != "" {
		m["subject_type"] = string(f.SubjectType)
	}
	if f.SubjectID != "" {
		m["subject_id"] = f.SubjectID
	}
	if f.PermissionType != "" {
		m["permission_type"] = string(f.PermissionType)
	}
	if f.Effect != "" {
		m["effect"] = string(f.Effect)
	}
	if f.Status != "" {
		m["status"] = string(f.Status)
	}
	if f.Search != "" {
		m["name"] = bson.M{"$regex": regexp.QuoteMeta(f.Search), "$options": "i"}
	}
	return m
}

func changeFilter(f *changelog.QueryFilter) bson.M {
	m := bson.M{}
	if f == nil {
		return m
	}
	if f.TenantID != "" {
		m["tenant_id"] = f.TenantID
	}
	if !f.PolicyID.IsNil() {
		m["policy_id"] = f.PolicyID.String()
	}
	if f.Action != "" {
		m["action"] = string(f.Action)
	}
	if f.Actor != "" {
		m["actor"] = f.Actor
	}
	if f.ResourceID != "" {
		m["resource_id"] = f.ResourceID
	}
	created := bson.M{}
	if f.After != nil {
		created["$gte"] = *f.After
	}
	if f.Before != nil {
		created["$lte"] = *f.Before
	}
	if len(created) > 0 {
		m["created_at"] = created
	}
	return m
}

// ──────────────────────────────────────────────────
// Policy operations
// ──────────────────────────────────────────────────

func (s *Store) CreatePolicy(ctx context.Context, p *policy.Policy) error {
	if _, err := s.mdb.NewInsert(policyToModel(p)).Exec(ctx); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return fmt.Errorf("policy %s: %w", p.ID, policy.ErrAlreadyExists)
		}
		return fmt.Errorf("rowguard: create policy: %w", err)
	}
	return nil
}

func (s *Store) GetPolicy(ctx context.Context, polID id.PolicyID) (*policy.Policy, error) {
	var m policyModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": polID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("policy %s: %w", polID, policy.ErrNotFound)
		}
		return nil, fmt.Errorf("rowguard: get policy: %w", err)
	}
	return policyFromModel(&m), nil
}

func (s *Store) UpdatePolicy(ctx context.Context, p *policy.Policy) error {
	m := policyToModel(p)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: update policy: %w", err)
	}
	if res.MatchedCount() == 0 {
		return fmt.Errorf("policy %s: %w", p.ID, policy.ErrNotFound)
	}
	return nil
}

func (s *Store) SoftDeletePolicy(ctx context.Context, polID id.PolicyID, deletedBy string, at time.Time) error {
	current, err := s.GetPolicy(ctx, polID)
	if err != nil {
		return err
	}
	res, err := s.mdb.NewUpdate((*policyModel)(nil)).
		Filter(bson.M{"_id": polID.String(), "version": current.Version}).
		Set("deleted", true).
		Set("deleted_by", deletedBy).
		Set("deleted_at", at).
		Set("updated_by", deletedBy).
		Set("updated_at", at).
		Set("version", current.Version+1).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: soft delete policy: %w", err)
	}
	if res.MatchedCount() == 0 {
		return fmt.Errorf("rowguard: soft delete policy %s: concurrent modification", polID)
	}
	return nil
}

func (s *Store) ListPolicies(ctx context.Context, filter *policy.ListFilter) ([]*policy.Policy, error) {
	var models []policyModel
	q := s.mdb.NewFind(&models).
		Filter(policyFilter(filter)).
		Sort(bson.D{{Key: "priority", Value: 1}, {Key: "_id", Value: 1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("rowguard: list policies: %w", err)
	}
	return policiesFromModels(models), nil
}

func (s *Store) CountPolicies(ctx context.Context, filter *policy.ListFilter) (int64, error) {
	count, err := s.mdb.NewFind((*policyModel)(nil)).
		Filter(policyFilter(filter)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: count policies: %w", err)
	}
	return count, nil
}

func (s *Store) ListPoliciesForResource(ctx context.Context, tenantID string, rt policy.ResourceType, resourceID string) ([]*policy.Policy, error) {
	var models []policyModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"tenant_id":     tenantID,
			"resource_type": string(rt),
			"resource_id":   resourceID,
			"deleted":       false,
		}).
		Sort(bson.D{{Key: "priority", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("rowguard: list policies for resource: %w", err)
	}
	return policiesFromModels(models), nil
}

func (s *Store) DeletePoliciesByTenant(ctx context.Context, tenantID string) error {
	_, err := s.mdb.NewDelete((*policyModel)(nil)).
		Many().
		Filter(bson.M{"tenant_id": tenantID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("rowguard: delete policies by tenant: %w", err)
	}
	return nil
}

func policiesFromModels(models []policyModel) []*policy.Policy {
	result := make([]*policy.Policy, len(models))
	for i := range models {
		result[i] = policyFromModel(&models[i])
	}
	return result
}

// ──────────────────────────────────────────────────
// Change log operations
// ──────────────────────────────────────────────────

func (s *Store) AppendChange(ctx context.Context, e *changelog.Entry) error {
	if _, err := s.mdb.NewInsert(changeToModel(e)).Exec(ctx); err != nil {
		return fmt.Errorf("rowguard: append change: %w", err)
	}
	return nil
}

func (s *Store) ListChanges(ctx context.Context, filter *changelog.QueryFilter) ([]*changelog.Entry, error) {
	var models []changeModel
	q := s.mdb.NewFind(&models).
		Filter(changeFilter(filter)).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter != nil {
		if filter.Limit > 0 {
			q = q.Limit(int64(filter.Limit))
		}
		if filter.Offset > 0 {
			q = q.Skip(int64(filter.Offset))
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
	count, err := s.mdb.NewFind((*changeModel)(nil)).
		Filter(changeFilter(filter)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: count changes: %w", err)
	}
	return count, nil
}

func (s *Store) PurgeChanges(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*changeModel)(nil)).
		Many().
		Filter(bson.M{"created_at": bson.M{"$lt": before}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("rowguard: purge changes: %w", err)
	}
	return res.DeletedCount(), nil
}
