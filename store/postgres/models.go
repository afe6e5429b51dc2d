package postgres

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/rowguard/changelog"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
)

// ──────────────────────────────────────────────────
// Policy model
// ──────────────────────────────────────────────────

type policyModel struct {
	grove.BaseModel `grove:"table:rowguard_policies"`
	ID              string              `grove:"id,pk"`
	TenantID        string              `grove:"tenant_id,notnull"`
	AppID           string              `grove:"app_id,notnull"`
	Name            string              `grove:"name,notnull"`
	Description     string              `grove:"description"`
	ResourceType    string              `grove:"resource_type,notnull"`
	ResourceID      string              `grove:"resource_id,notnull"`
	SubjectType     string              `grove:"subject_type,notnull"`
	SubjectID       string              `grove:"subject_id,notnull"`
	PermissionType  string              `grove:"permission_type,notnull"`
	Operations      int                 `grove:"operations,notnull"`
	RowCondition    string              `grove:"row_condition"`
	ColumnConfig    policy.ColumnConfig `grove:"column_config,type:jsonb"`
	Effect          string              `grove:"effect,notnull"`
	Priority        int                 `grove:"priority,notnull"`
	ValidFrom       *time.Time          `grove:"valid_from"`
	ValidTo         *time.Time          `grove:"valid_to"`
	Status          string              `grove:"status,notnull"`
	GrantedBy       string              `grove:"granted_by"`
	GrantedAt       time.Time           `grove:"granted_at,notnull"`
	CreatedBy       string              `grove:"created_by"`
	CreatedAt       time.Time           `grove:"created_at,notnull"`
	UpdatedBy       string              `grove:"updated_by"`
	UpdatedAt       time.Time           `grove:"updated_at,notnull"`
	Deleted         bool                `grove:"deleted,notnull"`
	DeletedBy       string              `grove:"deleted_by"`
	DeletedAt       *time.Time          `grove:"deleted_at"`
	Version         int                 `grove:"version,notnull"`
	Metadata        map[string]any      `grove:"metadata,type:jsonb"`
}

func policyToModel(p *policy.Policy) *policyModel {
	return &policyModel{
		ID:             p.ID.String(),
		TenantID:       p.TenantID,
		AppID:          p.AppID,
		Name:           p.Name,
		Description:    p.Description,
		ResourceType:   string(p.ResourceType),
		ResourceID:     p.ResourceID,
		SubjectType:    string(p.SubjectType),
		SubjectID:      p.SubjectID,
		PermissionType: string(p.PermissionType),
		Operations:     int(p.Operations),
		RowCondition:   p.RowCondition,
		ColumnConfig:   p.ColumnConfig,
		Effect:         string(p.Effect),
		Priority:       p.Priority,
		ValidFrom:      p.ValidFrom,
		ValidTo:        p.ValidTo,
		Status:         string(p.Status),
		GrantedBy:      p.GrantedBy,
		GrantedAt:      p.GrantedAt,
		CreatedBy:      p.CreatedBy,
		CreatedAt:      p.CreatedAt,
		UpdatedBy:      p.UpdatedBy,
		UpdatedAt:      p.UpdatedAt,
		Deleted:        p.Deleted,
		DeletedBy:      p.DeletedBy,
		DeletedAt:      p.DeletedAt,
		Version:        p.Version,
		Metadata:       p.Metadata,
	}
}

func policyFromModel(m *policyModel) *policy.Policy {
	pid, _ := id.ParsePolicyID(m.ID) //nolint:errcheck // stored IDs are always valid
	return &policy.Policy{
		ID:             pid,
		TenantID:       m.TenantID,
		AppID:          m.AppID,
		Name:           m.Name,
		Description:    m.Description,
		ResourceType:   policy.ResourceType(m.ResourceType),
		ResourceID:     m.ResourceID,
		SubjectType:    policy.SubjectType(m.SubjectType),
		SubjectID:      m.SubjectID,
		PermissionType: policy.PermissionType(m.PermissionType),
		Operations:     policy.Operation(m.Operations),
		RowCondition:   m.RowCondition,
		ColumnConfig:   m.ColumnConfig,
		Effect:         policy.Effect(m.Effect),
		Priority:       m.Priority,
		ValidFrom:      m.ValidFrom,
		ValidTo:        m.ValidTo,
		Status:         policy.Status(m.Status),
		GrantedBy:      m.GrantedBy,
		GrantedAt:      m.GrantedAt,
		CreatedBy:      m.CreatedBy,
		CreatedAt:      m.CreatedAt,
		UpdatedBy:      m.UpdatedBy,
		UpdatedAt:      m.UpdatedAt,
		Deleted:        m.Deleted,
		DeletedBy:      m.DeletedBy,
		DeletedAt:      m.DeletedAt,
		Version:        m.Version,
		Metadata:       m.Metadata,
	}
}

// ──────────────────────────────────────────────────
// Change log model
// ──────────────────────────────────────────────────

type changeModel struct {
	grove.BaseModel `grove:"table:rowguard_policy_changes"`
	ID              string          `grove:"id,pk"`
	TenantID        string          `grove:"tenant_id,notnull"`
	AppID           string          `grove:"app_id,notnull"`
	PolicyID        string          `grove:"policy_id,notnull"`
	Action          string          `grove:"action,notnull"`
	Actor           string          `grove:"actor"`
	ResourceID      string          `grove:"resource_id,notnull"`
	Version         int             `grove:"version,notnull"`
	Snapshot        json.RawMessage `grove:"snapshot,type:jsonb"`
	CreatedAt       time.Time       `grove:"created_at,notnull"`
}

func changeToModel(e *changelog.Entry) *changeModel {
	return &changeModel{
		ID:         e.ID.String(),
		TenantID:   e.TenantID,
		AppID:      e.AppID,
		PolicyID:   e.PolicyID.String(),
		Action:     string(e.Action),
		Actor:      e.Actor,
		ResourceID: e.ResourceID,
		Version:    e.Version,
		Snapshot:   e.Snapshot,
		CreatedAt:  e.CreatedAt,
	}
}

func changeFromModel(m *changeModel) *changelog.Entry {
	cid, _ := id.ParseChangeID(m.ID)       //nolint:errcheck // stored IDs are always valid
	pid, _ := id.ParsePolicyID(m.PolicyID) //nolint:errcheck // stored IDs are always valid
	return &changelog.Entry{
		ID:         cid,
		TenantID:   m.TenantID,
		AppID:      m.AppID,
		PolicyID:   pid,
		Action:     changelog.Action(m.Action),
		Actor:      m.Actor,
		ResourceID: m.ResourceID,
		Version:    m.Version,
		Snapshot:   m.Snapshot,
		CreatedAt:  m.CreatedAt,
	}
}
