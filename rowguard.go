// Package rowguard decides which rows and columns of a resource a principal
// may see or change.
//
// Policies target a subject (a user, role, department or position) on a
// resource (table, view, api or file) for a set of operations. Evaluate
// expands the principal into its subjects, selects the policies that apply,
// and resolves them into a Decision: a row predicate rendered from the
// winning row policy, and a column mask merged from every column policy.
// The caller applies both to its own query; rowguard never executes SQL.
//
//	eng, err := rowguard.NewEngine(
//	    rowguard.WithStore(memory.New()),
//	)
//	dec, err := eng.Evaluate(ctx, &rowguard.Principal{ID: "u42", Roles: []string{"analyst"}},
//	    policy.ResourceTable, "orders", policy.OpSelect)
//	// SELECT ... FROM orders WHERE <dec.Predicate()>
package rowguard

import (
	"time"

	"github.com/xraph/rowguard/column"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
)

// Subject is a (type, id) pair a policy can target.
type Subject = policy.Subject

// Principal describes the actor on whose behalf an operation is attempted.
// It is supplied by the caller's identity layer.
type Principal struct {
	ID           string         `json:"id"`
	Roles        []string       `json:"roles,omitempty"`
	DepartmentID string         `json:"department_id,omitempty"`
	PositionID   string         `json:"position_id,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// Decision is the resolved outcome of one evaluation. It is never persisted.
type Decision struct {
	// Granted is false when the winning row policy denies every row.
	Granted bool `json:"granted"`

	// RowPredicate is the WHERE fragment to apply. Nil means no restriction.
	RowPredicate *string `json:"row_predicate,omitempty"`

	// VisibleColumns is nil when every column is visible.
	VisibleColumns column.Set `json:"visible_columns,omitempty"`

	// DeniedColumns lists columns removed by deny policies.
	DeniedColumns column.Set `json:"denied_columns,omitempty"`

	// MatchedPolicyIDs lists every applicable policy in precedence order.
	MatchedPolicyIDs []id.PolicyID `json:"matched_policy_ids"`

	// RowPolicyID is the policy that decided the row dimension.
	RowPolicyID id.PolicyID `json:"row_policy_id,omitzero"`

	// ValidUntil is the next time a candidate policy's validity window opens
	// or closes. The decision must be recomputed from then on. Zero when no
	// window boundary is pending.
	ValidUntil time.Time `json:"valid_until,omitzero"`

	Reason     string `json:"reason,omitempty"`
	EvalTimeNs int64  `json:"eval_time_ns"`
}

// freshAt reports whether the decision still holds at t.
func (d *Decision) freshAt(t time.Time) bool {
	return d.ValidUntil.IsZero() || t.Before(d.ValidUntil)
}

// Predicate returns the row predicate, or "" when rows are unrestricted.
func (d *Decision) Predicate() string {
	if d.RowPredicate == nil {
		return ""
	}
	return *d.RowPredicate
}

// Mask returns the column outcome as a projector.
func (d *Decision) Mask() column.Mask {
	return column.Mask{Visible: d.VisibleColumns, Denied: d.DeniedColumns}
}

// Project applies the column outcome to one result row.
func (d *Decision) Project(row map[string]any) map[string]any {
	return d.Mask().Apply(row)
}

// ProjectAll applies the column outcome to a batch of rows.
func (d *Decision) ProjectAll(rows []map[string]any) []map[string]any {
	return d.Mask().ApplyAll(rows)
}

func (d *Decision) clone() *Decision {
	c := *d
	if d.RowPredicate != nil {
		p := *d.RowPredicate
		c.RowPredicate = &p
	}
	if d.VisibleColumns != nil {
		c.VisibleColumns = d.VisibleColumns.Union(nil)
	}
	if d.DeniedColumns != nil {
		c.DeniedColumns = d.DeniedColumns.Union(nil)
	}
	c.MatchedPolicyIDs = append([]id.PolicyID(nil), d.MatchedPolicyIDs...)
	return &c
}
