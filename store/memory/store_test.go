package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/rowguard/changelog"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
)

func newPolicy(tenant, resource string, priority int) *policy.Policy {
	return &policy.Policy{
		ID:             id.NewPolicyID(),
		TenantID:       tenant,
		Name:           "p-" + resource,
		ResourceType:   policy.ResourceTable,
		ResourceID:     resource,
		SubjectType:    policy.SubjectRole,
		SubjectID:      "analyst",
		PermissionType: policy.PermissionColumn,
		Operations:     policy.OpSelect,
		ColumnConfig:   policy.ColumnConfig{Deny: []string{"ssn"}},
		Effect:         policy.EffectDeny,
		Priority:       priority,
		Status:         policy.StatusActive,
	}
}

func TestPolicyCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := newPolicy("t1", "orders", 5)

	// Create
	if err := s.CreatePolicy(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.CreatePolicy(ctx, p); err == nil {
		t.Fatal("expected duplicate create to fail")
	}

	// Get returns a copy.
	got, err := s.GetPolicy(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.ColumnConfig.Deny[0] = "mutated"
	again, _ := s.GetPolicy(ctx, p.ID)
	if again.ColumnConfig.Deny[0] != "ssn" {
		t.Fatal("stored policy shares memory with caller")
	}

	// Update
	p.Name = "renamed"
	if err := s.UpdatePolicy(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetPolicy(ctx, p.ID)
	if got.Name != "renamed" {
		t.Fatal("update failed")
	}

	// Not found
	_, err = s.GetPolicy(ctx, id.NewPolicyID())
	if !errors.Is(err, policy.ErrNotFound) {
		t.Fatalf("expected policy.ErrNotFound, got %v", err)
	}
	if err := s.UpdatePolicy(ctx, newPolicy("t1", "x", 1)); !errors.Is(err, policy.ErrNotFound) {
		t.Fatalf("expected policy.ErrNotFound on update, got %v", err)
	}

	// Soft delete keeps the record.
	now := time.Now().UTC()
	if err := s.SoftDeletePolicy(ctx, p.ID, "admin", now); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetPolicy(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Deleted || got.DeletedBy != "admin" || got.DeletedAt == nil {
		t.Fatalf("soft delete not recorded: %+v", got)
	}

	list, _ := s.ListPolicies(ctx, &policy.ListFilter{TenantID: "t1"})
	if len(list) != 0 {
		t.Fatalf("expected deleted policy hidden, got %d", len(list))
	}
	list, _ = s.ListPolicies(ctx, &policy.ListFilter{TenantID: "t1", DeletedOnly: true})
	if len(list) != 1 {
		t.Fatalf("expected 1 deleted policy, got %d", len(list))
	}
	forRes, _ := s.ListPoliciesForResource(ctx, "t1", policy.ResourceTable, "orders")
	if len(forRes) != 0 {
		t.Fatal("deleted policies must not be returned for evaluation")
	}
}

func TestListPoliciesFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := newPolicy("t1", "orders", 10)
	b := newPolicy("t1", "orders", 1)
	c := newPolicy("t1", "customers", 5)
	c.SubjectType = policy.SubjectUser
	c.SubjectID = "u1"
	d := newPolicy("t2", "orders", 1)
	for _, p := range []*policy.Policy{a, b, c, d} {
		if err := s.CreatePolicy(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	list, _ := s.ListPolicies(ctx, &policy.ListFilter{TenantID: "t1"})
	if len(list) != 3 {
		t.Fatalf("expected 3 policies, got %d", len(list))
	}
	if list[0].ID.String() != b.ID.String() || list[1].ID.String() != c.ID.String() || list[2].ID.String() != a.ID.String() {
		t.Fatal("expected priority order")
	}

	list, _ = s.ListPolicies(ctx, &policy.ListFilter{TenantID: "t1", ResourceID: "orders"})
	if len(list) != 2 {
		t.Fatalf("expected 2 orders policies, got %d", len(list))
	}

	list, _ = s.ListPolicies(ctx, &policy.ListFilter{TenantID: "t1", SubjectType: policy.SubjectUser})
	if len(list) != 1 || list[0].ID.String() != c.ID.String() {
		t.Fatal("subject type filter failed")
	}

	list, _ = s.ListPolicies(ctx, &policy.ListFilter{TenantID: "t1", Limit: 1, Offset: 1})
	if len(list) != 1 || list[0].ID.String() != c.ID.String() {
		t.Fatal("pagination failed")
	}
	list, _ = s.ListPolicies(ctx, &policy.ListFilter{TenantID: "t1", Offset: 10})
	if len(list) != 0 {
		t.Fatal("offset past end should be empty")
	}

	count, _ := s.CountPolicies(ctx, &policy.ListFilter{TenantID: "t1", Limit: 1})
	if count != 3 {
		t.Fatalf("count must ignore pagination, got %d", count)
	}

	forRes, _ := s.ListPoliciesForResource(ctx, "t1", policy.ResourceTable, "orders")
	if len(forRes) != 2 {
		t.Fatalf("expected 2 policies for resource, got %d", len(forRes))
	}

	if err := s.DeletePoliciesByTenant(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	count, _ = s.CountPolicies(ctx, &policy.ListFilter{IncludeDeleted: true})
	if count != 1 {
		t.Fatalf("expected only t2 policy left, got %d", count)
	}
}

func TestChangeLog(t *testing.T) {
	ctx := context.Background()
	s := New()

	polID := id.NewPolicyID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, action := range []changelog.Action{changelog.ActionCreated, changelog.ActionDisabled, changelog.ActionDeleted} {
		err := s.AppendChange(ctx, &changelog.Entry{
			ID:        id.NewChangeID(),
			TenantID:  "t1",
			PolicyID:  polID,
			Action:    action,
			Actor:     "admin",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	list, _ := s.ListChanges(ctx, &changelog.QueryFilter{PolicyID: polID})
	if len(list) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(list))
	}
	if list[0].Action != changelog.ActionDeleted {
		t.Fatalf("expected newest first, got %s", list[0].Action)
	}

	count, _ := s.CountChanges(ctx, &changelog.QueryFilter{Action: changelog.ActionDisabled})
	if count != 1 {
		t.Fatalf("expected 1 disabled entry, got %d", count)
	}

	purged, _ := s.PurgeChanges(ctx, base.Add(90*time.Minute))
	if purged != 2 {
		t.Fatalf("expected 2 purged, got %d", purged)
	}
}
