// Package policy defines the data permission Policy entity: which subject may
// perform which operations on a resource, which rows it sees and which
// columns are visible to it.
package policy

import (
	"maps"
	"slices"
	"time"

	"github.com/xraph/rowguard/id"
)

// ResourceType is the kind of protected object.
type ResourceType string

const (
	ResourceTable ResourceType = "table"
	ResourceView  ResourceType = "view"
	ResourceAPI   ResourceType = "api"
	ResourceFile  ResourceType = "file"
)

// ResourceTypes lists every known resource type.
var ResourceTypes = []ResourceType{ResourceTable, ResourceView, ResourceAPI, ResourceFile}

// Valid reports whether r is a known resource type.
func (r ResourceType) Valid() bool { return slices.Contains(ResourceTypes, r) }

// SubjectType is the kind of subject a policy targets.
type SubjectType string

const (
	SubjectUser       SubjectType = "user"
	SubjectRole       SubjectType = "role"
	SubjectDepartment SubjectType = "department"
	SubjectPosition   SubjectType = "position"
)

// SubjectTypes lists every known subject type.
var SubjectTypes = []SubjectType{SubjectUser, SubjectRole, SubjectDepartment, SubjectPosition}

// Valid reports whether s is a known subject type.
func (s SubjectType) Valid() bool { return slices.Contains(SubjectTypes, s) }

// PermissionType selects the dimensions a policy governs.
type PermissionType string

const (
	PermissionRow          PermissionType = "row"
	PermissionColumn       PermissionType = "column"
	PermissionRowAndColumn PermissionType = "row_and_column"
)

// PermissionTypes lists every known permission type.
var PermissionTypes = []PermissionType{PermissionRow, PermissionColumn, PermissionRowAndColumn}

// Valid reports whether p is a known permission type.
func (p PermissionType) Valid() bool { return slices.Contains(PermissionTypes, p) }

// GovernsRows reports whether the permission type includes the row dimension.
func (p PermissionType) GovernsRows() bool {
	return p == PermissionRow || p == PermissionRowAndColumn
}

// GovernsColumns reports whether the permission type includes the column dimension.
func (p PermissionType) GovernsColumns() bool {
	return p == PermissionColumn || p == PermissionRowAndColumn
}

// Effect is the policy outcome, allow or deny.
type Effect string

const (
	// EffectAllow grants the rows or columns the policy describes.
	EffectAllow Effect = "allow"

	// EffectDeny hides every row, or the listed columns.
	EffectDeny Effect = "deny"
)

// Valid reports whether e is a known effect.
func (e Effect) Valid() bool { return e == EffectAllow || e == EffectDeny }

// Status toggles a policy on or off without deleting it.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s == StatusActive || s == StatusDisabled }

// Subject is a (type, id) pair a policy can target.
type Subject struct {
	Type SubjectType `json:"type" yaml:"type"`
	ID   string      `json:"id" yaml:"id"`
}

// String returns "type:id".
func (s Subject) String() string { return string(s.Type) + ":" + s.ID }

// ColumnConfig holds the column allow and deny lists of a policy.
// An Allow entry of "*" stands for every column of the resource.
type ColumnConfig struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
}

// Wildcard is the Allow entry that exposes every column.
const Wildcard = "*"

// IsEmpty reports whether neither list has entries.
func (c ColumnConfig) IsEmpty() bool { return len(c.Allow) == 0 && len(c.Deny) == 0 }

// AllowsAll reports whether the allow list contains the wildcard.
func (c ColumnConfig) AllowsAll() bool { return slices.Contains(c.Allow, Wildcard) }

// Policy is a single data permission rule.
type Policy struct {
	ID             id.PolicyID    `json:"id"`
	TenantID       string         `json:"tenant_id"`
	AppID          string         `json:"app_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	ResourceType   ResourceType   `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	SubjectType    SubjectType    `json:"subject_type"`
	SubjectID      string         `json:"subject_id"`
	PermissionType PermissionType `json:"permission_type"`
	Operations     Operation      `json:"operations"`
	RowCondition   string         `json:"row_condition,omitempty"`
	ColumnConfig   ColumnConfig   `json:"column_config"`
	Effect         Effect         `json:"effect"`
	Priority       int            `json:"priority"`
	ValidFrom      *time.Time     `json:"valid_from,omitempty"`
	ValidTo        *time.Time     `json:"valid_to,omitempty"`
	Status         Status         `json:"status"`
	GrantedBy      string         `json:"granted_by,omitempty"`
	GrantedAt      time.Time      `json:"granted_at"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedBy      string         `json:"updated_by,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Deleted        bool           `json:"deleted,omitempty"`
	DeletedBy      string         `json:"deleted_by,omitempty"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
	Version        int            `json:"version"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy of p.
func (p *Policy) Clone() *Policy {
	c := *p
	c.ColumnConfig = ColumnConfig{
		Allow: slices.Clone(p.ColumnConfig.Allow),
		Deny:  slices.Clone(p.ColumnConfig.Deny),
	}
	c.ValidFrom = cloneTime(p.ValidFrom)
	c.ValidTo = cloneTime(p.ValidTo)
	c.DeletedAt = cloneTime(p.DeletedAt)
	if p.Metadata != nil {
		c.Metadata = maps.Clone(p.Metadata)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Subject returns the subject the policy targets.
func (p *Policy) Subject() Subject {
	return Subject{Type: p.SubjectType, ID: p.SubjectID}
}

// ValidAt reports whether the policy applies at t: active, not deleted and
// inside its validity window. ValidFrom is inclusive, ValidTo exclusive.
func (p *Policy) ValidAt(t time.Time) bool {
	if p.Status != StatusActive || p.Deleted {
		return false
	}
	if p.ValidFrom != nil && p.ValidFrom.After(t) {
		return false
	}
	if p.ValidTo != nil && !p.ValidTo.After(t) {
		return false
	}
	return true
}

// Precedes reports whether p takes precedence over o: lower priority first,
// ties broken by ascending id.
func (p *Policy) Precedes(o *Policy) bool {
	if p.Priority != o.Priority {
		return p.Priority < o.Priority
	}
	return id.Compare(p.ID, o.ID) < 0
}

// ListFilter contains filters for listing policies. Soft-deleted policies
// are excluded unless IncludeDeleted or DeletedOnly is set.
type ListFilter struct {
	TenantID       string         `json:"tenant_id,omitempty"`
	ResourceType   ResourceType   `json:"resource_type,omitempty"`
	ResourceID     string         `json:"resource_id,omitempty"`
	SubjectType    SubjectType    `json:"subject_type,omitempty"`
	SubjectID      string         `json:"subject_id,omitempty"`
	PermissionType PermissionType `json:"permission_type,omitempty"`
	Effect         Effect         `json:"effect,omitempty"`
	Status         Status         `json:"status,omitempty"`
	IncludeDeleted bool           `json:"include_deleted,omitempty"`
	DeletedOnly    bool           `json:"deleted_only,omitempty"`
	Search         string         `json:"search,omitempty"`
	Limit          int            `json:"limit,omitempty"`
	Offset         int            `json:"offset,omitempty"`
}
