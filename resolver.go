package rowguard

import (
	"context"
	"fmt"
	"strings"

	"github.com/xraph/rowguard/policy"
)

// SubjectResolver expands a principal into the subjects policies can target.
// The result must start with (user, principal.ID), followed by the
// principal's roles, department and position, in a stable order.
// A principal that cannot be expanded yields ErrPrincipalUnresolvable.
type SubjectResolver interface {
	Expand(ctx context.Context, p *Principal) ([]Subject, error)
}

// ResolverFunc adapts a function to SubjectResolver.
type ResolverFunc func(ctx context.Context, p *Principal) ([]Subject, error)

// Expand calls f.
func (f ResolverFunc) Expand(ctx context.Context, p *Principal) ([]Subject, error) {
	return f(ctx, p)
}

// DirectResolver expands a principal from its own fields without lookups.
type DirectResolver struct{}

// Expand implements SubjectResolver.
func (DirectResolver) Expand(_ context.Context, p *Principal) ([]Subject, error) {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("%w: missing principal id", ErrPrincipalUnresolvable)
	}

	subjects := make([]Subject, 0, 3+len(p.Roles))
	subjects = append(subjects, Subject{Type: policy.SubjectUser, ID: p.ID})
	for _, r := range p.Roles {
		if r != "" {
			subjects = append(subjects, Subject{Type: policy.SubjectRole, ID: r})
		}
	}
	if p.DepartmentID != "" {
		subjects = append(subjects, Subject{Type: policy.SubjectDepartment, ID: p.DepartmentID})
	}
	if p.PositionID != "" {
		subjects = append(subjects, Subject{Type: policy.SubjectPosition, ID: p.PositionID})
	}
	return dedupeSubjects(subjects), nil
}

// dedupeSubjects returns in without repeats, keeping first occurrences.
// The input is never modified; resolvers may hand out shared slices.
func dedupeSubjects(in []Subject) []Subject {
	seen := make(map[Subject]struct{}, len(in))
	out := make([]Subject, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// expandPrincipal runs the resolver and enforces the ordering contract.
func (e *Engine) expandPrincipal(ctx context.Context, p *Principal) ([]Subject, error) {
	if p == nil || strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("%w: missing principal id", ErrPrincipalUnresolvable)
	}
	subjects, err := e.resolver.Expand(ctx, p)
	if err != nil {
		return nil, err
	}
	user := Subject{Type: policy.SubjectUser, ID: p.ID}
	if len(subjects) == 0 || subjects[0] != user {
		subjects = append([]Subject{user}, subjects...)
	}
	return dedupeSubjects(subjects), nil
}
