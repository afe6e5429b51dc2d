package rowguard

import (
	"time"

	"github.com/xraph/rowguard/policy"
)

// Match selects the policies that apply to a request: same resource, an
// operation bit in common, a targeted subject in the subject set, and valid
// at the given time. The order of the result is unspecified. Nothing matching
// is the common case and yields an empty slice.
func Match(policies []*policy.Policy, rt policy.ResourceType, resourceID string, op policy.Operation, subjects []Subject, at time.Time) []*policy.Policy {
	if len(policies) == 0 || len(subjects) == 0 {
		return []*policy.Policy{}
	}
	set := make(map[Subject]struct{}, len(subjects))
	for _, s := range subjects {
		set[s] = struct{}{}
	}

	matched := make([]*policy.Policy, 0, len(policies))
	for _, p := range policies {
		if p.ResourceType != rt || p.ResourceID != resourceID {
			continue
		}
		if !p.Operations.Has(op) {
			continue
		}
		if _, ok := set[p.Subject()]; !ok {
			continue
		}
		if !p.ValidAt(at) {
			continue
		}
		matched = append(matched, p)
	}
	return matched
}

// NextBoundary returns the earliest ValidFrom or ValidTo after at across
// policies, or the zero time when none is pending.
func NextBoundary(policies []*policy.Policy, at time.Time) time.Time {
	var next time.Time
	consider := func(t *time.Time) {
		if t == nil || !t.After(at) {
			return
		}
		if next.IsZero() || t.Before(next) {
			next = *t
		}
	}
	for _, p := range policies {
		if p.Status != policy.StatusActive || p.Deleted {
			continue
		}
		consider(p.ValidFrom)
		consider(p.ValidTo)
	}
	return next
}
