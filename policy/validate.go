package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNotFound is wrapped by store backends when a policy does not exist.
	ErrNotFound = errors.New("policy: not found")

	// ErrAlreadyExists is wrapped by store backends when a policy id is taken.
	ErrAlreadyExists = errors.New("policy: already exists")
)

// ValidationError names the field and rule a policy violates.
type ValidationError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Err   error  `json:"-"`
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("policy: %s: %s", e.Field, e.Rule)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, rule string) *ValidationError {
	return &ValidationError{Field: field, Rule: rule}
}

// Validate checks the structural invariants of a policy. Row condition syntax
// is checked separately by the condition package.
func (p *Policy) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return invalid("name", "required")
	case !p.ResourceType.Valid():
		return invalid("resource_type", fmt.Sprintf("unknown resource type %q", p.ResourceType))
	case strings.TrimSpace(p.ResourceID) == "":
		return invalid("resource_id", "required")
	case !p.SubjectType.Valid():
		return invalid("subject_type", fmt.Sprintf("unknown subject type %q", p.SubjectType))
	case strings.TrimSpace(p.SubjectID) == "":
		return invalid("subject_id", "required")
	case !p.PermissionType.Valid():
		return invalid("permission_type", fmt.Sprintf("unknown permission type %q", p.PermissionType))
	case p.Operations == 0:
		return invalid("operations", "operation mask must be non-zero")
	case !p.Operations.Valid():
		return invalid("operations", fmt.Sprintf("unknown operation bits in mask %d", uint8(p.Operations)))
	case !p.Effect.Valid():
		return invalid("effect", fmt.Sprintf("unknown effect %q", p.Effect))
	case p.Status != "" && !p.Status.Valid():
		return invalid("status", fmt.Sprintf("unknown status %q", p.Status))
	}

	if p.PermissionType.GovernsRows() && strings.TrimSpace(p.RowCondition) == "" {
		return invalid("row_condition", "required for permission type "+string(p.PermissionType))
	}
	if p.PermissionType.GovernsColumns() {
		if err := p.validateColumns(); err != nil {
			return err
		}
	}
	if p.ValidFrom != nil && p.ValidTo != nil && p.ValidFrom.After(*p.ValidTo) {
		return invalid("valid_from", "must not be after valid_to")
	}
	return nil
}

func (p *Policy) validateColumns() error {
	cc := p.ColumnConfig
	if cc.IsEmpty() {
		return invalid("column_config", "required for permission type "+string(p.PermissionType))
	}
	if p.Effect == EffectDeny && len(cc.Allow) > 0 {
		return invalid("column_config.allow", "deny policies list columns in deny only")
	}
	if slices.Contains(cc.Deny, Wildcard) {
		return invalid("column_config.deny", "wildcard is not allowed in a deny list")
	}
	for _, c := range slices.Concat(cc.Allow, cc.Deny) {
		if strings.TrimSpace(c) == "" {
			return invalid("column_config", "column names must be non-empty")
		}
	}
	return nil
}
