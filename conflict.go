package rowguard

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
)

// ConflictKind classifies how two policies overlap.
type ConflictKind string

const (
	// ConflictOverlap means both policies apply to the same request but
	// differ in priority and effect does not clash.
	ConflictOverlap ConflictKind = "overlap"
	// ConflictOpposingEffect means one policy allows what the other denies.
	ConflictOpposingEffect ConflictKind = "opposing_effect"
	// ConflictSamePriority means both govern rows at the same priority, so
	// only the id ordering decides which predicate wins.
	ConflictSamePriority ConflictKind = "same_priority"
)

// Conflict describes an existing policy that overlaps a candidate policy.
type Conflict struct {
	PolicyID   id.PolicyID      `json:"policy_id"`
	Name       string           `json:"name"`
	Kind       ConflictKind     `json:"kind"`
	Effect     policy.Effect    `json:"effect"`
	Priority   int              `json:"priority"`
	Operations policy.Operation `json:"operations"`
	Reason     string           `json:"reason"`
}

// DetectConflicts lists active policies that share p's resource and subject
// and overlap it in operations and validity window. p itself is skipped.
func (e *Engine) DetectConflicts(ctx context.Context, p *policy.Policy) ([]Conflict, error) {
	tenantID := p.TenantID
	if tenantID == "" {
		tenantID = scopeFromContext(ctx).tenantID
	}
	existing, err := e.store.ListPolicies(ctx, &policy.ListFilter{
		TenantID:    tenantID,
		ResourceID:  p.ResourceID,
		SubjectType: p.SubjectType,
		SubjectID:   p.SubjectID,
		Status:      policy.StatusActive,
	})
	if err != nil {
		return nil, fmt.Errorf("rowguard: detect conflicts: %w", err)
	}

	conflicts := []Conflict{}
	for _, q := range existing {
		if q.ID.String() == p.ID.String() || q.Deleted {
			continue
		}
		shared := p.Operations & q.Operations
		if shared == 0 || !windowsOverlap(p, q) {
			continue
		}
		conflicts = append(conflicts, classify(p, q, shared))
	}
	return conflicts, nil
}

func classify(p, q *policy.Policy, shared policy.Operation) Conflict {
	c := Conflict{
		PolicyID:   q.ID,
		Name:       q.Name,
		Kind:       ConflictOverlap,
		Effect:     q.Effect,
		Priority:   q.Priority,
		Operations: shared,
	}
	bothRows := p.PermissionType.GovernsRows() && q.PermissionType.GovernsRows()
	switch {
	case bothRows && p.Priority == q.Priority:
		c.Kind = ConflictSamePriority
		c.Reason = fmt.Sprintf("both govern rows for %s at priority %d", shared, q.Priority)
	case p.Effect != q.Effect:
		c.Kind = ConflictOpposingEffect
		c.Reason = fmt.Sprintf("%s policy overlaps %s policy for %s", q.Effect, p.Effect, shared)
	default:
		c.Reason = fmt.Sprintf("overlaps for %s at priority %d", shared, q.Priority)
	}
	return c
}

// windowsOverlap reports whether the half-open validity windows [from, to)
// of a and b intersect. A nil bound is unbounded.
func windowsOverlap(a, b *policy.Policy) bool {
	return before(a.ValidFrom, b.ValidTo) && before(b.ValidFrom, a.ValidTo)
}

func before(from, to *time.Time) bool {
	if from == nil || to == nil {
		return true
	}
	return from.Before(*to)
}
