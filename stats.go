package rowguard

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/rowguard/policy"
)

// StatsFilter narrows GetStatistics. The tenant defaults to the context tenant.
type StatsFilter struct {
	TenantID     string              `json:"tenant_id,omitempty"`
	ResourceType policy.ResourceType `json:"resource_type,omitempty"`
	ResourceID   string              `json:"resource_id,omitempty"`
}

// Stats summarises the policies of a tenant. Breakdowns count non-deleted
// policies.
type Stats struct {
	Total            int64                           `json:"total"`
	Active           int64                           `json:"active"`
	Disabled         int64                           `json:"disabled"`
	Deleted          int64                           `json:"deleted"`
	ByResourceType   map[policy.ResourceType]int64   `json:"by_resource_type"`
	BySubjectType    map[policy.SubjectType]int64    `json:"by_subject_type"`
	ByPermissionType map[policy.PermissionType]int64 `json:"by_permission_type"`
	ByEffect         map[policy.Effect]int64         `json:"by_effect"`
}

// statsConcurrency bounds the parallel count queries.
const statsConcurrency = 4

// GetStatistics counts policies by status and category. Counts run
// concurrently against the store.
func (e *Engine) GetStatistics(ctx context.Context, filter *StatsFilter) (*Stats, error) {
	base := policy.ListFilter{}
	if filter != nil {
		base.TenantID = filter.TenantID
		base.ResourceType = filter.ResourceType
		base.ResourceID = filter.ResourceID
	}
	if base.TenantID == "" {
		base.TenantID = scopeFromContext(ctx).tenantID
	}

	st := &Stats{}
	var (
		byResource   = make([]int64, len(policy.ResourceTypes))
		bySubject    = make([]int64, len(policy.SubjectTypes))
		byPermission = make([]int64, len(policy.PermissionTypes))
		byEffect     = make([]int64, 2)
		effects      = []policy.Effect{policy.EffectAllow, policy.EffectDeny}
	)

	type count struct {
		filter policy.ListFilter
		dst    *int64
	}
	with := func(mod func(f *policy.ListFilter)) policy.ListFilter {
		f := base
		mod(&f)
		return f
	}
	counts := []count{
		{with(func(*policy.ListFilter) {}), &st.Total},
		{with(func(f *policy.ListFilter) { f.Status = policy.StatusActive }), &st.Active},
		{with(func(f *policy.ListFilter) { f.Status = policy.StatusDisabled }), &st.Disabled},
		{with(func(f *policy.ListFilter) { f.DeletedOnly = true }), &st.Deleted},
	}
	for i, rt := range policy.ResourceTypes {
		counts = append(counts, count{with(func(f *policy.ListFilter) { f.ResourceType = rt }), &byResource[i]})
	}
	for i, s := range policy.SubjectTypes {
		counts = append(counts, count{with(func(f *policy.ListFilter) { f.SubjectType = s }), &bySubject[i]})
	}
	for i, pt := range policy.PermissionTypes {
		counts = append(counts, count{with(func(f *policy.ListFilter) { f.PermissionType = pt }), &byPermission[i]})
	}
	for i, ef := range effects {
		counts = append(counts, count{with(func(f *policy.ListFilter) { f.Effect = ef }), &byEffect[i]})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statsConcurrency)
	for _, c := range counts {
		g.Go(func() error {
			// A resource type filter already set by the caller wins.
			if base.ResourceType != "" && c.filter.ResourceType != base.ResourceType {
				return nil
			}
			n, err := e.store.CountPolicies(gctx, &c.filter)
			if err != nil {
				return err
			}
			*c.dst = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: statistics: %w", ErrStoreUnavailable, err)
	}

	st.ByResourceType = make(map[policy.ResourceType]int64, len(byResource))
	for i, rt := range policy.ResourceTypes {
		st.ByResourceType[rt] = byResource[i]
	}
	st.BySubjectType = make(map[policy.SubjectType]int64, len(bySubject))
	for i, s := range policy.SubjectTypes {
		st.BySubjectType[s] = bySubject[i]
	}
	st.ByPermissionType = make(map[policy.PermissionType]int64, len(byPermission))
	for i, pt := range policy.PermissionTypes {
		st.ByPermissionType[pt] = byPermission[i]
	}
	st.ByEffect = make(map[policy.Effect]int64, len(effects))
	for i, ef := range effects {
		st.ByEffect[ef] = byEffect[i]
	}
	return st, nil
}
