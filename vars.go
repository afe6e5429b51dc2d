package rowguard

import "github.com/xraph/rowguard/condition"

// Built-in template variables derived from the principal.
const (
	VarUserID     = "userId"
	VarTenantID   = "tenantId"
	VarDeptID     = "deptId"
	VarPositionID = "positionId"
	VarRoleIDs    = "roleIds"
)

// BuiltinVariables lists the variables every evaluation provides.
var BuiltinVariables = []string{VarUserID, VarTenantID, VarDeptID, VarPositionID, VarRoleIDs}

// VarsFor builds the template context for a principal. Principal attributes
// are added first so they cannot shadow the built-in names.
func VarsFor(p *Principal, tenantID string) condition.Vars {
	vars := make(condition.Vars, len(p.Attributes)+len(BuiltinVariables))
	for k, v := range p.Attributes {
		vars[k] = v
	}
	vars[VarUserID] = p.ID
	vars[VarTenantID] = tenantID
	if p.DepartmentID != "" {
		vars[VarDeptID] = p.DepartmentID
	}
	if p.PositionID != "" {
		vars[VarPositionID] = p.PositionID
	}
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	vars[VarRoleIDs] = roles
	return vars
}
