package api

import (
	"fmt"
	"time"

	"github.com/xraph/rowguard"
	"github.com/xraph/rowguard/policy"
)

// ──────────────────────────────────────────────────
// Evaluation requests
// ──────────────────────────────────────────────────

// PrincipalInput identifies the caller a decision is computed for.
type PrincipalInput struct {
	ID           string         `json:"id" description:"User identifier"`
	Roles        []string       `json:"roles,omitempty" description:"Role identifiers"`
	DepartmentID string         `json:"department_id,omitempty" description:"Department identifier"`
	PositionID   string         `json:"position_id,omitempty" description:"Position identifier"`
	Attributes   map[string]any `json:"attributes,omitempty" description:"Extra variables for row conditions"`
}

// EvaluateRequest is the request body for a data permission evaluation.
type EvaluateRequest struct {
	Principal    PrincipalInput `json:"principal" description:"Caller identity"`
	ResourceType string         `json:"resource_type" description:"Resource type (table, view, api, file)"`
	ResourceID   string         `json:"resource_id" description:"Resource identifier"`
	Operation    string         `json:"operation" description:"Single operation (select, insert, update, delete)"`
}

// BatchEvaluateRequest contains multiple evaluations.
type BatchEvaluateRequest struct {
	Evaluations []EvaluateRequest `json:"evaluations" description:"Evaluations in order"`
}

func (r *EvaluateRequest) toEngine() (*rowguard.EvaluateRequest, error) {
	op, err := policy.ParseOperation(r.Operation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rowguard.ErrInvalidOperation, err)
	}
	return &rowguard.EvaluateRequest{
		Principal: &rowguard.Principal{
			ID:           r.Principal.ID,
			Roles:        r.Principal.Roles,
			DepartmentID: r.Principal.DepartmentID,
			PositionID:   r.Principal.PositionID,
			Attributes:   r.Principal.Attributes,
		},
		ResourceType: policy.ResourceType(r.ResourceType),
		ResourceID:   r.ResourceID,
		Operation:    op,
	}, nil
}

// ──────────────────────────────────────────────────
// Policy requests
// ──────────────────────────────────────────────────

// PolicyRequest is the body for creating or fully replacing a policy.
type PolicyRequest struct {
	Name           string              `json:"name" description:"Policy name"`
	Description    string              `json:"description,omitempty" description:"Description"`
	ResourceType   string              `json:"resource_type" description:"Resource type (table, view, api, file)"`
	ResourceID     string              `json:"resource_id" description:"Resource identifier"`
	SubjectType    string              `json:"subject_type" description:"Subject type (user, role, department, position)"`
	SubjectID      string              `json:"subject_id" description:"Subject identifier"`
	PermissionType string              `json:"permission_type" description:"row, column or row_and_column"`
	Operations     string              `json:"operations" description:"Operations, e.g. select|update"`
	RowCondition   string              `json:"row_condition,omitempty" description:"Row condition template"`
	ColumnConfig   policy.ColumnConfig `json:"column_config,omitempty" description:"Column allow and deny lists"`
	Effect         string              `json:"effect,omitempty" description:"allow or deny (default allow)"`
	Priority       int                 `json:"priority,omitempty" description:"Lower values win"`
	ValidFrom      *time.Time          `json:"valid_from,omitempty" description:"Start of validity (inclusive)"`
	ValidTo        *time.Time          `json:"valid_to,omitempty" description:"End of validity (exclusive)"`
	Status         string              `json:"status,omitempty" description:"active or disabled"`
	Metadata       map[string]any      `json:"metadata,omitempty" description:"Custom metadata"`
}

func (r *PolicyRequest) toPolicy() (*policy.Policy, error) {
	ops, err := policy.ParseOperation(r.Operations)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rowguard.ErrInvalidPolicy, err)
	}
	effect := policy.Effect(r.Effect)
	if effect == "" {
		effect = policy.EffectAllow
	}
	return &policy.Policy{
		Name:           r.Name,
		Description:    r.Description,
		ResourceType:   policy.ResourceType(r.ResourceType),
		ResourceID:     r.ResourceID,
		SubjectType:    policy.SubjectType(r.SubjectType),
		SubjectID:      r.SubjectID,
		PermissionType: policy.PermissionType(r.PermissionType),
		Operations:     ops,
		RowCondition:   r.RowCondition,
		ColumnConfig:   r.ColumnConfig,
		Effect:         effect,
		Priority:       r.Priority,
		ValidFrom:      r.ValidFrom,
		ValidTo:        r.ValidTo,
		Status:         policy.Status(r.Status),
		Metadata:       r.Metadata,
	}, nil
}

// GetPolicyRequest is the path parameter for getting a policy.
type GetPolicyRequest struct {
	PolicyID string `path:"policyId" description:"Policy ID"`
}

// ListPoliciesRequest holds query parameters.
type ListPoliciesRequest struct {
	ResourceType   string `query:"resource_type" description:"Filter by resource type"`
	ResourceID     string `query:"resource_id" description:"Filter by resource ID"`
	SubjectType    string `query:"subject_type" description:"Filter by subject type"`
	SubjectID      string `query:"subject_id" description:"Filter by subject ID"`
	PermissionType string `query:"permission_type" description:"Filter by permission type"`
	Effect         string `query:"effect" description:"Filter by effect (allow/deny)"`
	Status         string `query:"status" description:"Filter by status (active/disabled)"`
	Deleted        string `query:"deleted" description:"include, only or empty to hide deleted policies"`
	Search         string `query:"search" description:"Search by name"`
	Limit          int    `query:"limit" description:"Maximum results"`
	Offset         int    `query:"offset" description:"Results to skip"`
}

// ──────────────────────────────────────────────────
// Statistics and change log requests
// ──────────────────────────────────────────────────

// StatsRequest holds query parameters for policy statistics.
type StatsRequest struct {
	ResourceType string `query:"resource_type" description:"Restrict to a resource type"`
	ResourceID   string `query:"resource_id" description:"Restrict to a resource"`
}

// ListChangesRequest holds query parameters for the policy change log.
type ListChangesRequest struct {
	PolicyID   string `query:"policy_id" description:"Filter by policy ID"`
	Action     string `query:"action" description:"Filter by action"`
	Actor      string `query:"actor" description:"Filter by actor"`
	ResourceID string `query:"resource_id" description:"Filter by resource ID"`
	After      string `query:"after" description:"After timestamp (RFC3339)"`
	Before     string `query:"before" description:"Before timestamp (RFC3339)"`
	Limit      int    `query:"limit" description:"Maximum results"`
	Offset     int    `query:"offset" description:"Results to skip"`
}
