package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/rowguard/changelog"
	"github.com/xraph/rowguard/id"
	"github.com/xraph/rowguard/policy"
)

// ──────────────────────────────────────────────────
// Policy model
// ──────────────────────────────────────────────────

type columnsModel struct {
	Allow []string `bson:"allow,omitempty"`
	Deny  []string `bson:"deny,omitempty"`
}

type policyModel struct {
	grove.BaseModel `grove:"table:rowguard_policies"`
	ID              string         `grove:"id,pk"           bson:"_id"`
	TenantID        string         `grove:"tenant_id"       bson:"tenant_id"`
	AppID           string         `grove:"app_id"          bson:"app_id"`
	Name            string         `grove:"name"            bson:"name"`
	Description     string         `grove:"description"     bson:"description"`
	ResourceType    string         `grove:"resource_type"   bson:"resource_type"`
	ResourceID      string         `grove:"resource_id"     bson:"resource_id"`
	SubjectType     string         `grove:"subject_type"    bson:"subject_type"`
	SubjectID       string         `grove:"subject_id"      bson:"subject_id"`
	PermissionType  string         `grove:"permission_type" bson:"permission_type"`
	Operations      int            `grove:"operations"      bson:"operations"`
	RowCondition    string         `grove:"row_condition"   bson:"row_condition,omitempty"`
	ColumnConfig    columnsModel   `grove:"column_config"   bson:"column_config"`
	Effect          string         `grove:"effect"          bson:"effect"`
	Priority        int            `grove:"priority"        bson:"priority"`
	ValidFrom       *time.Time     `grove:"valid_from"      bson:"valid_from,omitempty"`
	ValidTo         *time.Time     `grove:"valid_to"        bson:"valid_to,omitempty"`
	Status          string         `grove:"status"          bson:"status"`
	GrantedBy       string         `grove:"granted_by"      bson:"granted_by"`
	GrantedAt       time.Time      `grove:"granted_at"      bson:"granted_at"`
	CreatedBy       string         `grove:"created_by"      bson:"created_by"`
	CreatedAt       time.Time      `grove:"created_at"      bson:"created_at"`
	UpdatedBy       string         `grove:"updated_by"      bson:"updated_by"`
	UpdatedAt       time.Time      `grove:"updated_at"      bson:"updated_at"`
	Deleted         bool           `grove:"deleted"         bson:"deleted"`
	DeletedBy       string         `grove:"deleted_by"      bson:"deleted_by,omitempty"`
	DeletedAt       *time.Time     `grove:"deleted_at"      bson:"deleted_at,omitempty"`
	Version         int            `grove:"version"         bson:"version"`
	Metadata        map[string]any `grove:"metadata"        bson:"metadata,omitempty"`
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
		ColumnConfig:   columnsModel{Allow: p.ColumnConfig.Allow, Deny: p.ColumnConfig.Deny},
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
		ColumnConfig:   policy.ColumnConfig{Allow: m.ColumnConfig.Allow, Deny: m.ColumnConfig.Deny},
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
	ID              string    `grove:"id,pk"       bson:"_id"`
	TenantID        string    `grove:"tenant_id"   bson:"tenant_id"`
	AppID           string    `grove:"app_id"      bson:"app_id"`
	PolicyID        string    `grove:"policy_id"   bson:"policy_id"`
	Action          string    `grove:"action"      bson:"action"`
	Actor           string    `grove:"actor"       bson:"actor"`
	ResourceID      string    `grove:"resource_id" bson:"resource_id"`
	Version         int       `grove:"version"     bson:"version"`
	Snapshot        string    `grove:"snapshot"    bson:"snapshot,omitempty"`
	CreatedAt       time.Time `grove:"created_at"  bson:"created_at"`
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
		Snapshot:   string(e.Snapshot),
		CreatedAt:  e.CreatedAt,
	}
}

func changeFromModel(m *changeModel) *changelog.Entry {
	cid, _ := id.ParseChangeID(m.ID)       //nolint:errcheck // stored IDs are always valid
	pid, _ := id.ParsePolicyID(m.PolicyID) //nolint:errcheck // stored IDs are always valid
	e := &changelog.Entry{
		ID:         cid,
		TenantID:   m.TenantID,
		AppID:      m.AppID,
		PolicyID:   pid,
		Action:     changelog.Action(m.Action),
		Actor:      m.Actor,
		ResourceID: m.ResourceID,
		Version:    m.Version,
		CreatedAt:  m.CreatedAt,
	}
	if m.Snapshot != "" {
		e.Snapshot = []byte(m.Snapshot)
	}
	return e
}
