package rowguard

import (
	"fmt"
	"slices"

	"github.com/xraph/rowguard/column"
	"github.com/xraph/rowguard/condition"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
)

// rowOutcome is the resolved row dimension.
type rowOutcome struct {
	granted   bool
	predicate *string
	policyID  id.PolicyID
	reason    string
}

// columnOutcome is the resolved column dimension.
type columnOutcome struct {
	visible column.Set
	denied  column.Set
}

// sortByPrecedence orders policies by (priority asc, id asc) in place.
func sortByPrecedence(ps []*policy.Policy) {
	slices.SortStableFunc(ps, func(a, b *policy.Policy) int {
		switch {
		case a.Priority < b.Priority:
			return -1
		case a.Priority > b.Priority:
			return 1
		}
		return id.Compare(a.ID, b.ID)
	})
}

// resolveRows picks the single highest-precedence row policy. Row policies
// are never combined. Input must already be in precedence order.
func (e *Engine) resolveRows(matched []*policy.Policy, vars condition.Vars) rowOutcome {
	for _, p := range matched {
		if !p.PermissionType.GovernsRows() {
			continue
		}
		if p.Effect == policy.EffectDeny {
			pred := e.config.DenyPredicate
			return rowOutcome{
				granted:   false,
				predicate: &pred,
				policyID:  p.ID,
				reason:    fmt.Sprintf("rows denied by policy %q", p.Name),
			}
		}
		pred := e.config.Dialect.Render(p.RowCondition, vars)
		return rowOutcome{
			granted:   true,
			predicate: &pred,
			policyID:  p.ID,
			reason:    fmt.Sprintf("rows filtered by policy %q", p.Name),
		}
	}
	return e.defaultRows()
}

func (e *Engine) defaultRows() rowOutcome {
	if e.config.DefaultPosture == PostureDeny {
		pred := e.config.DenyPredicate
		return rowOutcome{granted: false, predicate: &pred, reason: "no row policy, default deny"}
	}
	return rowOutcome{granted: true, reason: "no row policy, default allow"}
}

// resolveColumns merges every column policy: the union of allow lists (or
// all columns when no allow policy applies) minus the union of deny lists.
// Deny always wins, whatever the priorities.
func (e *Engine) resolveColumns(matched []*policy.Policy) columnOutcome {
	var (
		allowAll   bool
		sawAllow   bool
		sawColumns bool
		allowed    = column.Set{}
		denied     = column.Set{}
	)
	for _, p := range matched {
		if !p.PermissionType.GovernsColumns() {
			continue
		}
		sawColumns = true
		cc := p.ColumnConfig
		denied.Add(cc.Deny...)
		if p.Effect != policy.EffectAllow || len(cc.Allow) == 0 {
			continue
		}
		sawAllow = true
		if cc.AllowsAll() {
			allowAll = true
			continue
		}
		allowed.Add(cc.Allow...)
	}

	if !sawColumns {
		if e.config.DefaultPosture == PostureDeny {
			return columnOutcome{visible: column.Set{}}
		}
		return columnOutcome{}
	}

	out := columnOutcome{}
	if len(denied) > 0 {
		out.denied = denied
	}
	if sawAllow && !allowAll {
		out.visible = allowed.Minus(denied)
	}
	return out
}
