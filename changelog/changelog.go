// Package changelog records every mutation of a data permission policy so the
// audit trail survives soft deletes and full replaces.
package changelog

import (
	"encoding/json"
	"time"

	"github.com/xraph/rowguard/id"
)

// Action names the kind of policy mutation.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionEnabled  Action = "enabled"
	ActionDisabled Action = "disabled"
	ActionDeleted  Action = "deleted"
)

// Entry is a single policy change record. Snapshot holds the policy as it
// was after the change, encoded as JSON.
type Entry struct {
	ID         id.ChangeID     `json:"id"`
	TenantID   string          `json:"tenant_id"`
	AppID      string          `json:"app_id"`
	PolicyID   id.PolicyID     `json:"policy_id"`
	Action     Action          `json:"action"`
	Actor      string          `json:"actor,omitempty"`
	ResourceID string          `json:"resource_id"`
	Version    int             `json:"version"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// QueryFilter contains filters for querying change entries.
type QueryFilter struct {
	TenantID   string      `json:"tenant_id,omitempty"`
	PolicyID   id.PolicyID `json:"policy_id,omitempty"`
	Action     Action      `json:"action,omitempty"`
	Actor      string      `json:"actor,omitempty"`
	ResourceID string      `json:"resource_id,omitempty"`
	After      *time.Time  `json:"after,omitempty"`
	Before     *time.Time  `json:"before,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Offset     int         `json:"offset,omitempty"`
}
