package rowguard

import (
	"context"

	"github.com/xraph/forge"
)

// tenantScope is the app and tenant an engine call runs under.
type tenantScope struct {
	appID    string
	tenantID string
}

// scopeFromContext prefers the Forge request scope, where the organisation
// is the tenant, and falls back to WithTenant values.
func scopeFromContext(ctx context.Context) tenantScope {
	if s, ok := forge.ScopeFrom(ctx); ok {
		return tenantScope{appID: s.AppID(), tenantID: s.OrgID()}
	}
	return tenantScope{
		appID:    stringValue(ctx, ctxKeyAppID),
		tenantID: stringValue(ctx, ctxKeyTenantID),
	}
}
