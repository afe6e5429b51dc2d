package policy

import (
	"context"
	"time"

	"github.com/xraph/rowguard/id"
)

// Store defines persistence operations for data permission policies.
// Writes to one policy must be visible atomically to later reads.
type Store interface {
	// CreatePolicy persists a new policy.
	CreatePolicy(ctx context.Context, p *Policy) error

	// GetPolicy retrieves a policy by ID, including soft-deleted ones.
	GetPolicy(ctx context.Context, polID id.PolicyID) (*Policy, error)

	// UpdatePolicy replaces a stored policy.
	UpdatePolicy(ctx context.Context, p *Policy) error

	// SoftDeletePolicy marks a policy deleted and keeps the record.
	SoftDeletePolicy(ctx context.Context, polID id.PolicyID, deletedBy string, at time.Time) error

	// ListPolicies returns policies matching the filter ordered by
	// priority then id.
	ListPolicies(ctx context.Context, filter *ListFilter) ([]*Policy, error)

	// CountPolicies returns the number of policies matching the filter.
	CountPolicies(ctx context.Context, filter *ListFilter) (int64, error)

	// ListPoliciesForResource returns the non-deleted policies of a tenant
	// for one resource. Status, subject and time filtering is left to the caller.
	ListPoliciesForResource(ctx context.Context, tenantID string, rt ResourceType, resourceID string) ([]*Policy, error)

	// DeletePoliciesByTenant physically removes all policies for a tenant.
	DeletePoliciesByTenant(ctx context.Context, tenantID string) error
}
