package rowguard

import "context"

type contextKey int

const (
	ctxKeyAppID contextKey = iota
	ctxKeyTenantID
)

// WithTenant scopes ctx to an app and tenant. Policies created under it
// belong to the tenant and evaluations only see that tenant's policies.
// Use this in standalone mode; under Forge the request scope is used.
func WithTenant(ctx context.Context, appID, tenantID string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyAppID, appID)
	return context.WithValue(ctx, ctxKeyTenantID, tenantID)
}

// TenantFromContext returns the tenant the context is scoped to, or "".
func TenantFromContext(ctx context.Context) string {
	return scopeFromContext(ctx).tenantID
}

func stringValue(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}
